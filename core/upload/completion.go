package upload

import (
	"fmt"
	"os"

	"github.com/ssebide/music-platform/model"
)

// DirectoryCountComplete reports whether the workspace holds as many chunk
// files as declared. It does not look at which indices are present, so an
// out-of-range index can stand in for a missing one.
func DirectoryCountComplete(store *ChunkStore, workspace string, declaredTotal int) (bool, error) {
	if declaredTotal < 1 {
		return false, nil
	}
	n, err := store.CountChunks(workspace)
	if err != nil {
		return false, err
	}
	return n == declaredTotal, nil
}

// CompletionDetector decides when an upload can be assembled.
type CompletionDetector struct {
	store *ChunkStore
}

// NewCompletionDetector 创建完成检测器
func NewCompletionDetector(store *ChunkStore) *CompletionDetector {
	return &CompletionDetector{store: store}
}

// IsComplete requires every index in [0, total) to be recorded in the ledger
// and committed on disk. Files outside that range are ignored.
func (d *CompletionDetector) IsComplete(workspace string, declaredTotal int, received model.ChunkSet) (bool, error) {
	if !received.Covers(declaredTotal) {
		return false, nil
	}
	for i := 0; i < declaredTotal; i++ {
		_, err := os.Stat(d.store.ChunkPath(workspace, i))
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to stat chunk %d: %w", i, err)
		}
	}
	return true, nil
}
