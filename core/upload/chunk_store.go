package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const chunkPrefix = "chunk_"

// MaxChunks bounds the chunks of one upload; chunk file names are padded to six digits.
const MaxChunks = 1_000_000

// ChunkStore keeps the raw chunks of each in-flight upload in a per-track workspace directory.
type ChunkStore struct {
	root string
}

// NewChunkStore creates a store rooted at dir.
func NewChunkStore(root string) *ChunkStore {
	return &ChunkStore{root: root}
}

// Workspace returns the workspace directory of a track.
func (s *ChunkStore) Workspace(trackID string) string {
	return filepath.Join(s.root, trackID)
}

// Root returns the directory holding all workspaces.
func (s *ChunkStore) Root() string {
	return s.root
}

// ChunkPath returns the file that holds chunk index. Zero padding keeps
// lexical order equal to index order.
func (s *ChunkStore) ChunkPath(workspace string, index int) string {
	return filepath.Join(workspace, fmt.Sprintf("%s%06d", chunkPrefix, index))
}

// WriteChunk stores data as chunk index, replacing any previous content.
// Readers never observe a partially written chunk.
func (s *ChunkStore) WriteChunk(workspace string, index int, data []byte) (string, error) {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace %s: %w", workspace, err)
	}

	final := s.ChunkPath(workspace, index)
	tmp, err := os.CreateTemp(workspace, fmt.Sprintf(".%s%06d.tmp-*", chunkPrefix, index))
	if err != nil {
		return "", fmt.Errorf("failed to create temp chunk in %s: %w", workspace, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("failed to write chunk %d: %w", index, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("failed to sync chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to close chunk %d: %w", index, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to commit chunk %d: %w", index, err)
	}
	return final, nil
}

// CountChunks counts committed chunk files. Temp files are ignored.
// A missing workspace counts as zero.
func (s *ChunkStore) CountChunks(workspace string) (int, error) {
	entries, err := os.ReadDir(workspace)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list workspace %s: %w", workspace, err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), chunkPrefix) {
			n++
		}
	}
	return n, nil
}

// EachChunk streams chunks 0..count-1 to fn in ascending order.
func (s *ChunkStore) EachChunk(workspace string, count int, fn func(index int, r io.Reader) error) error {
	for i := 0; i < count; i++ {
		if err := s.withChunk(workspace, i, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChunkStore) withChunk(workspace string, index int, fn func(int, io.Reader) error) error {
	f, err := os.Open(s.ChunkPath(workspace, index))
	if err != nil {
		return fmt.Errorf("failed to open chunk %d: %w", index, err)
	}
	defer f.Close()
	return fn(index, f)
}

// ReadAllChunksInOrder loads chunks 0..count-1 into memory.
func (s *ChunkStore) ReadAllChunksInOrder(workspace string, count int) ([][]byte, error) {
	chunks := make([][]byte, 0, count)
	err := s.EachChunk(workspace, count, func(index int, r io.Reader) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("failed to read chunk %d: %w", index, err)
		}
		chunks = append(chunks, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// RemoveWorkspace deletes a workspace and everything in it.
func (s *ChunkStore) RemoveWorkspace(workspace string) error {
	if err := os.RemoveAll(workspace); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", workspace, err)
	}
	return nil
}
