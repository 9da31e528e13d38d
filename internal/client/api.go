package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/proto"
	"github.com/vovakirdan/wiredm/internal/store"
)

// APIError is a non-2xx response of the REST surface.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Unwrap exposes the matching core error kind so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case core.ErrCodeValidation:
		return core.ErrValidation
	case core.ErrCodeForbidden:
		return core.ErrForbidden
	case core.ErrCodeNotFound:
		return core.ErrNotFound
	case core.ErrCodeStorage:
		return core.ErrStorage
	}
	return nil
}

// API talks to the REST surface on behalf of one user.
type API struct {
	baseURL string
	http    *http.Client

	mu     sync.RWMutex
	token  string
	userID int64
}

// NewAPI creates a REST client for baseURL, e.g. http://localhost:8080.
func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// SetToken uses an existing token instead of logging in.
func (a *API) SetToken(token string, userID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
	a.userID = userID
}

// Token returns the current bearer token.
func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// UserID returns the authenticated user id.
func (a *API) UserID() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.userID
}

// Register creates an account and keeps the issued token.
func (a *API) Register(ctx context.Context, username, fullName, password string) error {
	var resp proto.AuthResponse
	req := proto.RegisterRequest{Username: username, FullName: fullName, Password: password}
	if err := a.doJSON(ctx, http.MethodPost, "/api/register", req, &resp); err != nil {
		return err
	}
	a.SetToken(resp.Token, resp.UserID)
	return nil
}

// Login authenticates and keeps the issued token.
func (a *API) Login(ctx context.Context, username, password string) error {
	var resp proto.AuthResponse
	req := proto.LoginRequest{Username: username, Password: password}
	if err := a.doJSON(ctx, http.MethodPost, "/api/login", req, &resp); err != nil {
		return err
	}
	a.SetToken(resp.Token, resp.UserID)
	return nil
}

// Partners lists every other user with presence.
func (a *API) Partners(ctx context.Context) ([]proto.User, error) {
	var users []proto.User
	if err := a.doJSON(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// History fetches the conversation with otherID, oldest first.
func (a *API) History(ctx context.Context, otherID int64) ([]*store.Message, error) {
	var msgs []*proto.Message
	if err := a.doJSON(ctx, http.MethodGet, conversationPath(otherID), nil, &msgs); err != nil {
		return nil, err
	}
	out := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ToStore())
	}
	return out, nil
}

// Send posts a message to receiverID. image may be nil for a text-only message.
func (a *API) Send(ctx context.Context, receiverID int64, text string, image io.Reader, imageName string) (*store.Message, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("text", text); err != nil {
		return nil, fmt.Errorf("write text field: %w", err)
	}
	if image != nil {
		part, err := w.CreateFormFile("image", imageName)
		if err != nil {
			return nil, fmt.Errorf("create image part: %w", err)
		}
		if _, err := io.Copy(part, image); err != nil {
			return nil, fmt.Errorf("copy image: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var msg proto.Message
	err := a.do(ctx, http.MethodPost, conversationPath(receiverID)+"/messages", &body, w.FormDataContentType(), &msg)
	if err != nil {
		return nil, err
	}
	return msg.ToStore(), nil
}

// Edit replaces the text of a message sent by the current user.
func (a *API) Edit(ctx context.Context, messageID int64, text string) (*store.Message, error) {
	var msg proto.Message
	if err := a.doJSON(ctx, http.MethodPatch, messagePath(messageID), proto.EditMessageRequest{Text: text}, &msg); err != nil {
		return nil, err
	}
	return msg.ToStore(), nil
}

// Delete removes a message sent by the current user.
func (a *API) Delete(ctx context.Context, messageID int64) error {
	return a.doJSON(ctx, http.MethodDelete, messagePath(messageID), nil, nil)
}

// MarkAllRead marks every message from senderID to the current user as read.
func (a *API) MarkAllRead(ctx context.Context, senderID int64) (int64, error) {
	var resp proto.MarkReadResponse
	if err := a.doJSON(ctx, http.MethodPost, conversationPath(senderID)+"/read", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// LastMessages fetches the Last-Message Index. The server derives the user from the token.
func (a *API) LastMessages(ctx context.Context, _ int64) (map[int64]*store.Message, error) {
	var raw map[int64]*proto.Message
	if err := a.doJSON(ctx, http.MethodGet, "/api/messages/last", nil, &raw); err != nil {
		return nil, err
	}
	out := make(map[int64]*store.Message, len(raw))
	for counterpart, m := range raw {
		out[counterpart] = m.ToStore()
	}
	return out, nil
}

// UnreadCounts fetches the Unread-Count Index. The server derives the user from the token.
func (a *API) UnreadCounts(ctx context.Context, _ int64) (map[int64]int, error) {
	counts := map[int64]int{}
	if err := a.doJSON(ctx, http.MethodGet, "/api/messages/unread", nil, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func (a *API) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return a.do(ctx, method, path, body, contentType, out)
}

func (a *API) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var er proto.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil && !errors.Is(err, io.EOF) {
			return &APIError{Status: resp.StatusCode, Message: resp.Status}
		}
		return &APIError{Status: resp.StatusCode, Code: er.Code, Message: er.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func conversationPath(userID int64) string {
	return "/api/conversations/" + strconv.FormatInt(userID, 10)
}

func messagePath(messageID int64) string {
	return "/api/messages/" + strconv.FormatInt(messageID, 10)
}
