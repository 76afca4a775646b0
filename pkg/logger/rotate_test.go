package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRotatingFileRollsOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "dispatch.log")
	w, err := newRotatingFile(path, 1, 2, 1)
	require.NoError(t, err)
	w.maxSize = 16
	defer w.Close()

	_, err = w.Write([]byte(strings.Repeat("a", 10)))
	require.NoError(t, err)
	_, err = w.Write([]byte(strings.Repeat("b", 10)))
	require.NoError(t, err)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("b", 10), string(current))

	rolled, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("a", 10), string(rolled))
}

func TestRotatingFileRequiresPath(t *testing.T) {
	_, err := newRotatingFile("", 0, 0, 0)
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, "DEBUG", parseLevel("debug").String())
	require.Equal(t, "WARN", parseLevel("Warning").String())
	require.Equal(t, "INFO", parseLevel("").String())
}
