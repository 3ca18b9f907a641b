package fsutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHash(t *testing.T) {
	// MD5 of "hi"; the value is part of the protocol contract with clients
	assert.Equal(t, "49f68a5c8493ec2c0bf489821c21fc3b", ContentHash([]byte("hi")))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", ContentHash(nil))
	assert.NotEqual(t, ContentHash([]byte("a")), ContentHash([]byte("b")))
}

func TestResolveWithin(t *testing.T) {
	root := filepath.FromSlash("/data/client/project")

	path, err := ResolveWithin(root, "src/app.js")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "app.js"), path)

	path, err = ResolveWithin(root, "./a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a.txt"), path)

	_, err = ResolveWithin(root, "../other/secret")
	assert.Error(t, err)

	_, err = ResolveWithin(root, "../../..")
	assert.Error(t, err)

	// Escapes that normalize back inside are fine
	path, err = ResolveWithin(root, "src/../a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a.txt"), path)
}

func TestOSFSWriteReadDelete(t *testing.T) {
	ctx := context.Background()
	fs := NewOSFS()
	root := t.TempDir()

	// WriteFile creates missing parent directories
	path := filepath.Join(root, "deep", "nested", "a.txt")
	require.NoError(t, fs.WriteFile(ctx, path, []byte("hi")))

	data, err := fs.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	require.NoError(t, fs.Delete(ctx, path))
	_, err = fs.ReadFile(ctx, path)
	assert.True(t, os.IsNotExist(err))
}

func TestOSFSListFilesRecursive(t *testing.T) {
	ctx := context.Background()
	fs := NewOSFS()
	root := t.TempDir()

	require.NoError(t, fs.WriteFile(ctx, filepath.Join(root, "a.txt"), []byte("a")))
	require.NoError(t, fs.WriteFile(ctx, filepath.Join(root, "sub", "b.txt"), []byte("b")))
	require.NoError(t, fs.WriteFile(ctx, filepath.Join(root, "sub", "deep", "c.txt"), []byte("c")))

	files, err := fs.ListFilesRecursive(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub/b.txt", "sub/deep/c.txt"}, files)
}

func TestMockFS(t *testing.T) {
	ctx := context.Background()
	fs := NewMockFS()

	path := filepath.FromSlash("/root/sub/a.txt")
	require.NoError(t, fs.WriteFile(ctx, path, []byte("hello")))

	data, err := fs.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.True(t, fs.Exists(filepath.FromSlash("/root/sub")))

	files, err := fs.ListFilesRecursive(ctx, filepath.FromSlash("/root"))
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/a.txt"}, files)

	require.NoError(t, fs.Delete(ctx, path))
	_, err = fs.ReadFile(ctx, path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Error(t, fs.Delete(ctx, path))
}
