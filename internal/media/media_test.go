package media

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// pngHeader is enough for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestSaveAndRemove(t *testing.T) {
	s, err := New(t.TempDir(), 1024)
	require.NoError(t, err)

	ref, err := s.Save(bytes.NewReader(append(pngHeader, make([]byte, 100)...)))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ref, PublicPrefix))
	require.True(t, strings.HasSuffix(ref, ".png"))

	path := filepath.Join(s.Dir(), strings.TrimPrefix(ref, PublicPrefix))
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, s.Remove(ref))
	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, s.Remove(ref), "removing twice is fine")
	require.NoError(t, s.Remove("/etc/passwd"))
}

func TestSaveRejectsUnsupportedAndLarge(t *testing.T) {
	s, err := New(t.TempDir(), 64)
	require.NoError(t, err)

	_, err = s.Save(strings.NewReader("just some text"))
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = s.Save(bytes.NewReader(append(pngHeader, make([]byte, 100)...)))
	require.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Empty(t, entries, "rejected uploads must not leave files behind")
}
