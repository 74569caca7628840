package utils

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "report.md")

	require.NoError(t, SafeWriteFile(path, []byte("first")))
	require.NoError(t, SafeWriteFile(path, []byte("second")))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are renamed away")
	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestPrettyJSON(t *testing.T) {
	b, err := PrettyJSON(map[string]int{"rows": 3})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"rows\": 3\n}\n", string(b))

	_, err = PrettyJSON(math.NaN())
	assert.ErrorContains(t, err, "marshal json")
}
