package upload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleConcatenatesAndCleansUp(t *testing.T) {
	root := t.TempDir()
	store := NewChunkStore(filepath.Join(root, "temp"))
	asm := NewAssembler(store, filepath.Join(root, "audio"))
	ws := store.Workspace("t1")

	for i, p := range []string{"A", "B", "C"} {
		_, err := store.WriteChunk(ws, i, []byte(p))
		require.NoError(t, err)
	}

	dest, err := asm.Assemble(ws, "song.mp3", 3)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "audio", "song.mp3"), dest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(data))

	_, err = os.Stat(ws)
	assert.True(t, os.IsNotExist(err))
}

func TestAssembleReplacesExistingDestination(t *testing.T) {
	root := t.TempDir()
	store := NewChunkStore(filepath.Join(root, "temp"))
	asm := NewAssembler(store, filepath.Join(root, "audio"))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "audio"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "audio", "song.mp3"), []byte("a much longer previous upload"), 0o644))

	ws := store.Workspace("t2")
	_, err := store.WriteChunk(ws, 0, []byte("new"))
	require.NoError(t, err)

	dest, err := asm.Assemble(ws, "song.mp3", 1)
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestAssembleMissingChunkKeepsWorkspace(t *testing.T) {
	root := t.TempDir()
	store := NewChunkStore(filepath.Join(root, "temp"))
	asm := NewAssembler(store, filepath.Join(root, "audio"))
	ws := store.Workspace("t3")

	_, err := store.WriteChunk(ws, 0, []byte("A"))
	require.NoError(t, err)

	_, err = asm.Assemble(ws, "song.mp3", 2)
	assert.ErrorIs(t, err, ErrAssemblyIO)

	_, err = os.Stat(store.ChunkPath(ws, 0))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "audio", "song.mp3"))
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(filepath.Join(root, "audio"))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp output removed")
}

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"song.mp3":            "song.mp3",
		"../../etc/passwd":    "etcpasswd",
		`..\..\win\ini.wav`:   "winini.wav",
		"a/b\\c":              "abc",
		"....":                "",
		"./.":                 "",
		"  ":                  "",
		"my song (live).flac": "my song (live).flac",
	}
	for in, want := range cases {
		got := SanitizeFileName(in)
		assert.Equal(t, want, got, in)
		assert.NotContains(t, got, "/")
		assert.NotContains(t, got, "\\")
		assert.NotContains(t, got, "..")
	}
}
