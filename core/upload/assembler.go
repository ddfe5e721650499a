package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ssebide/music-platform/logger"

	"github.com/docker/go-units"
)

// Assembler concatenates a finished workspace into one destination file.
type Assembler struct {
	store    *ChunkStore
	destRoot string

	removeWorkspace func(workspace string) error
}

// NewAssembler 创建合并器
func NewAssembler(store *ChunkStore, destRoot string) *Assembler {
	return &Assembler{store: store, destRoot: destRoot, removeWorkspace: store.RemoveWorkspace}
}

// DestinationPath returns where fileName is assembled to.
func (a *Assembler) DestinationPath(fileName string) string {
	return filepath.Join(a.destRoot, SanitizeFileName(fileName))
}

// Assemble writes chunks 0..totalChunks-1 of workspace to the destination
// in order and removes the workspace. An existing destination file is replaced.
// On failure the workspace is left intact.
func (a *Assembler) Assemble(workspace, fileName string, totalChunks int) (string, error) {
	name := SanitizeFileName(fileName)
	if name == "" {
		return "", ErrEmptyFileName
	}
	if err := os.MkdirAll(a.destRoot, 0o755); err != nil {
		return "", fmt.Errorf("%w: failed to create destination %s: %v", ErrAssemblyIO, a.destRoot, err)
	}

	start := time.Now()
	out, err := os.CreateTemp(a.destRoot, ".assemble-*")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create output file: %v", ErrAssemblyIO, err)
	}
	tmpName := out.Name()
	fail := func(format string, args ...interface{}) (string, error) {
		out.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("%w: "+format, append([]interface{}{ErrAssemblyIO}, args...)...)
	}

	var written int64
	err = a.store.EachChunk(workspace, totalChunks, func(index int, r io.Reader) error {
		n, err := io.Copy(out, r)
		written += n
		if err != nil {
			return fmt.Errorf("failed to copy chunk %d: %w", index, err)
		}
		return nil
	})
	if err != nil {
		return fail("%v", err)
	}
	if err := out.Sync(); err != nil {
		return fail("failed to sync output: %v", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("%w: failed to close output: %v", ErrAssemblyIO, err)
	}

	dest := filepath.Join(a.destRoot, name)
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("%w: failed to move output to %s: %v", ErrAssemblyIO, dest, err)
	}

	logger.Info("upload assembled",
		logger.String("path", dest),
		logger.Int("chunks", totalChunks),
		logger.String("size", units.HumanSize(float64(written))),
		logger.Duration("elapsed", time.Since(start)))

	if err := a.removeWorkspace(workspace); err != nil {
		return dest, fmt.Errorf("%w: %v", ErrAssemblyIO, err)
	}
	return dest, nil
}
