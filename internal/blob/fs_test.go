package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_PutDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir, "https://cdn.example.com/audio/")
	require.NoError(t, err)

	loc, err := s.Put(context.Background(), "abc123.mp3", []byte("audio"), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/audio/abc123.mp3", loc)

	data, err := os.ReadFile(filepath.Join(dir, "abc123.mp3"))
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), data)

	require.NoError(t, s.Delete(context.Background(), loc))
	_, err = os.Stat(filepath.Join(dir, "abc123.mp3"))
	assert.True(t, os.IsNotExist(err))
}

func TestFSStore_DeleteMissingIsNoError(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), "http://localhost/audio")
	require.NoError(t, err)

	assert.NoError(t, s.Delete(context.Background(), "http://localhost/audio/never-existed.mp3"))
}

func TestFSStore_PutStripsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir, "http://localhost/audio")
	require.NoError(t, err)

	loc, err := s.Put(context.Background(), "../../etc/evil.mp3", []byte("x"), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/audio/evil.mp3", loc)

	_, err = os.Stat(filepath.Join(dir, "evil.mp3"))
	assert.NoError(t, err, "file lands inside the root")
}
