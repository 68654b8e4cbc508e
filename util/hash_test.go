package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeKey(t *testing.T) {
	a := NodeKey("foo", "/repo/a.py", 3)
	assert.Equal(t, a, NodeKey("foo", "/repo/a.py", 3))
	assert.NotEqual(t, a, NodeKey("foo", "/repo/a.py", 4))
	// The separator keeps ("ab","c") and ("a","bc") apart.
	assert.NotEqual(t, NodeKey("ab", "c"), NodeKey("a", "bc"))
	assert.Len(t, a, 64)
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, ContentHash([]byte("x")), ContentHash([]byte("x")))
	assert.NotEqual(t, ContentHash([]byte("x")), ContentHash([]byte("y")))
}

func TestFindGitRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindGitRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	plain := t.TempDir()
	got, err = FindGitRoot(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}
