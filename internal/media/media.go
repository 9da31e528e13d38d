package media

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	// PublicPrefix is the URL path under which saved images are served.
	PublicPrefix = "/uploads/"

	defaultMaxBytes = 5 << 20
)

// Errors returned by Save.
var (
	ErrTooLarge    = errors.New("image too large")
	ErrUnsupported = errors.New("unsupported image type")
)

var extByType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Store keeps uploaded images on local disk under uuid file names.
type Store struct {
	dir      string
	maxBytes int64
}

// New creates the upload directory when needed.
func New(dir string, maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the directory served under PublicPrefix.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes r to a new file and returns its public reference, e.g. /uploads/<uuid>.png.
// The type is sniffed from the content, not taken from the client.
func (s *Store) Save(r io.Reader) (string, error) {
	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return "", fmt.Errorf("read image: %w", err)
	}
	ext, ok := extByType[http.DetectContentType(head)]
	if !ok {
		return "", ErrUnsupported
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(br, s.maxBytes+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		_ = os.Remove(path)
		return "", fmt.Errorf("write image: %w", err)
	case n > s.maxBytes:
		_ = os.Remove(path)
		return "", ErrTooLarge
	case closeErr != nil:
		_ = os.Remove(path)
		return "", fmt.Errorf("close image file: %w", closeErr)
	}
	return PublicPrefix + name, nil
}

// Remove deletes the file behind a reference returned by Save. Unknown references are ignored.
func (s *Store) Remove(ref string) error {
	name, ok := strings.CutPrefix(ref, PublicPrefix)
	if !ok || name == "" || strings.ContainsAny(name, `/\`) {
		return nil
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}
