package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wiredm/internal/store"
)

// Schema creates the tables used by the store. Timestamps are unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	full_name     TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	is_online     BOOLEAN NOT NULL DEFAULT 0,
	last_seen     INTEGER,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id   INTEGER NOT NULL,
	receiver_id INTEGER NOT NULL,
	text        TEXT NOT NULL DEFAULT '',
	image       TEXT NOT NULL DEFAULT '',
	is_read     BOOLEAN NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	FOREIGN KEY (sender_id) REFERENCES users(id),
	FOREIGN KEY (receiver_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(receiver_id, is_read);
`

const messageColumns = `id, sender_id, receiver_id, text, image, is_read, created_at`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without touching disk.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// ApplySchema creates the tables if they do not exist.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := exec(ctx, tx); err != nil {
		_ = tx.Rollback() //nolint:errcheck // the exec error is the one worth reporting
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, fullName, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, full_name, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, fullName, passwordHash, toNanos(s.now()))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, full_name, password_hash, is_online, last_seen, created_at
		FROM users
		WHERE id = ?
	`
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, full_name, password_hash, is_online, last_seen, created_at
		FROM users
		WHERE username = ?
	`
	return scanUser(s.db.QueryRowContext(ctx, query, username))
}

// ListUsersExcept lists every user other than userID.
func (s *SQLiteStore) ListUsersExcept(ctx context.Context, userID int64) ([]*store.User, error) {
	query := `
		SELECT id, username, full_name, password_hash, is_online, last_seen, created_at
		FROM users
		WHERE id != ?
		ORDER BY username ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]*store.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// SetPresence persists the online flag. lastSeen is only written when going offline.
func (s *SQLiteStore) SetPresence(ctx context.Context, userID int64, online bool, lastSeen time.Time) error {
	var (
		result sql.Result
		err    error
	)
	if online {
		result, err = s.db.ExecContext(ctx, `UPDATE users SET is_online = 1 WHERE id = ?`, userID)
	} else {
		result, err = s.db.ExecContext(ctx, `UPDATE users SET is_online = 0, last_seen = ? WHERE id = ?`, toNanos(lastSeen), userID)
	}
	if err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var (
		user      store.User
		lastSeen  sql.NullInt64
		createdAt int64
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.FullName,
		&user.PasswordHash,
		&user.IsOnline,
		&lastSeen,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.CreatedAt = fromNanos(createdAt)
	if lastSeen.Valid {
		t := fromNanos(lastSeen.Int64)
		user.LastSeen = &t
	}
	return &user, nil
}

// ==== MessageStore implementation ====

// CreateMessage inserts msg and recomputes the receiver's unread index in one transaction.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) (*store.SendResult, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.IsRead = false

	var result store.SendResult
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := `
			INSERT INTO messages (sender_id, receiver_id, text, image, is_read, created_at)
			VALUES (?, ?, ?, ?, 0, ?)
		`
		res, err := tx.ExecContext(ctx, query, msg.SenderID, msg.ReceiverID, msg.Text, msg.Image, toNanos(msg.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get last insert id: %w", err)
		}
		msg.ID = id

		unread, err := unreadCounts(ctx, tx, msg.ReceiverID)
		if err != nil {
			return err
		}
		result.ReceiverUnread = unread
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Message = msg
	return &result, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	return getMessage(ctx, s.db, id)
}

func getMessage(ctx context.Context, q querier, id int64) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	msg, err := scanMessage(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// UpdateMessageText replaces the text of a message. created_at and is_read are untouched.
func (s *SQLiteStore) UpdateMessageText(ctx context.Context, id int64, text string) (*store.Message, error) {
	var updated *store.Message
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE messages SET text = ? WHERE id = ?`, text, id)
		if err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("message %d: %w", id, store.ErrNotFound)
		}
		updated, err = getMessage(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteMessage removes a message and, inside the same transaction, recomputes the
// receiver's unread index (when the message was unread) and the pair's last message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id int64) (*store.DeleteResult, error) {
	var result store.DeleteResult
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		msg, err := getMessage(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		result.Deleted = msg

		if !msg.IsRead {
			unread, err := unreadCounts(ctx, tx, msg.ReceiverID)
			if err != nil {
				return err
			}
			result.ReceiverUnread = unread
		}

		last, err := lastMessageBetween(ctx, tx, msg.SenderID, msg.ReceiverID)
		if err != nil {
			return err
		}
		result.LastMessage = last
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkAllRead flags unread messages from senderID to receiverID and recomputes the
// receiver's unread index in the same transaction.
func (s *SQLiteStore) MarkAllRead(ctx context.Context, senderID, receiverID int64) (*store.ReadResult, error) {
	var result store.ReadResult
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := `
			UPDATE messages SET is_read = 1
			WHERE sender_id = ? AND receiver_id = ? AND is_read = 0
		`
		res, err := tx.ExecContext(ctx, query, senderID, receiverID)
		if err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		result.Count, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}

		unread, err := unreadCounts(ctx, tx, receiverID)
		if err != nil {
			return err
		}
		result.ReceiverUnread = unread
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListBetween lists every message between two users, oldest first.
func (s *SQLiteStore) ListBetween(ctx context.Context, userA, userB int64) ([]*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userA, userB, userB, userA)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// LastMessageBetween returns the most recent message of the pair, nil if none.
func (s *SQLiteStore) LastMessageBetween(ctx context.Context, userA, userB int64) (*store.Message, error) {
	return lastMessageBetween(ctx, s.db, userA, userB)
}

func lastMessageBetween(ctx context.Context, q querier, userA, userB int64) (*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	msg, err := scanMessage(q.QueryRowContext(ctx, query, userA, userB, userB, userA))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query last message: %w", err)
	}
	return msg, nil
}

// LastMessagePerCounterpart groups all messages touching userID by counterpart and
// keeps the most recent one per group.
func (s *SQLiteStore) LastMessagePerCounterpart(ctx context.Context, userID int64) (map[int64]*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM (
			SELECT ` + messageColumns + `,
				ROW_NUMBER() OVER (
					PARTITION BY CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END
					ORDER BY created_at DESC, id DESC
				) AS rn
			FROM messages
			WHERE sender_id = ? OR receiver_id = ?
		)
		WHERE rn = 1
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query last messages: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*store.Message)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out[msg.Counterpart(userID)] = msg
	}

	return out, rows.Err()
}

// UnreadCountsBySender counts unread messages addressed to userID grouped by sender.
func (s *SQLiteStore) UnreadCountsBySender(ctx context.Context, userID int64) (map[int64]int, error) {
	return unreadCounts(ctx, s.db, userID)
}

func unreadCounts(ctx context.Context, q querier, receiverID int64) (map[int64]int, error) {
	query := `
		SELECT sender_id, COUNT(*)
		FROM messages
		WHERE receiver_id = ? AND is_read = 0
		GROUP BY sender_id
	`
	rows, err := q.QueryContext(ctx, query, receiverID)
	if err != nil {
		return nil, fmt.Errorf("query unread counts: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int)
	for rows.Next() {
		var (
			senderID int64
			count    int
		)
		if err := rows.Scan(&senderID, &count); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		out[senderID] = count
	}

	return out, rows.Err()
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		msg       store.Message
		createdAt int64
	)
	if err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Text, &msg.Image, &msg.IsRead, &createdAt); err != nil {
		return nil, err
	}
	msg.CreatedAt = fromNanos(createdAt)
	return &msg, nil
}

var _ store.Store = (*SQLiteStore)(nil)
