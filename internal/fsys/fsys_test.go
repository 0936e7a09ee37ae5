package fsys

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, fs FileSystem, root string) {
	dir := filepath.Join(root, "src", "nested")
	file := filepath.Join(dir, "a.ts")

	require.NoError(t, fs.CreateDirectory(dir))
	require.NoError(t, fs.WriteFile(file, []byte("export {}")))

	data, err := fs.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "export {}", string(data))

	st, err := fs.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, int64(9), st.Size)
	assert.False(t, st.IsDir)

	require.NoError(t, fs.WriteFile(filepath.Join(root, "src", "b.ts"), []byte("b")))
	entries, err := fs.ReadDir(filepath.Join(root, "src"))
	require.NoError(t, err)
	assert.Equal(t, []DirEntry{{Name: "b.ts"}, {Name: "nested", IsDir: true}}, entries)

	require.NoError(t, fs.Delete(file, DeleteOptions{}))
	_, err = fs.ReadFile(file)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, fs.WriteFile(file, []byte("x")))
	require.NoError(t, fs.Delete(filepath.Join(root, "src"), DeleteOptions{Recursive: true}))
	_, err = fs.Stat(dir)
	assert.Error(t, err)

	assert.NoError(t, fs.Delete(filepath.Join(root, "missing"), DeleteOptions{}))
}

func TestMemory(t *testing.T) {
	exercise(t, Memory(), "/w")
}

func TestOS(t *testing.T) {
	exercise(t, OS(), t.TempDir())
}
