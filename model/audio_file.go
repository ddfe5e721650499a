package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Progress row states. "complete" only means the last declared index was received.
const (
	ProgressStatusIncomplete = "incomplete"
	ProgressStatusComplete   = "complete"
)

// ChunkSet is the sorted set of distinct chunk indices received, stored as a JSON array.
type ChunkSet []int

// Scan 实现 sql.Scanner 接口
func (s *ChunkSet) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported ChunkSet column type %T", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*s = nil
		return nil
	}
	var indices []int
	if err := json.Unmarshal(bytes, &indices); err != nil {
		return err
	}
	*s = ChunkSet(nil).With(indices...)
	return nil
}

// Value 实现 driver.Valuer 接口
func (s ChunkSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// With returns a new set containing s plus the given indices.
func (s ChunkSet) With(indices ...int) ChunkSet {
	seen := make(map[int]struct{}, len(s)+len(indices))
	out := make(ChunkSet, 0, len(s)+len(indices))
	for _, group := range [][]int{s, indices} {
		for _, idx := range group {
			if _, ok := seen[idx]; ok {
				continue
			}
			seen[idx] = struct{}{}
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// Contains reports whether idx was received.
func (s ChunkSet) Contains(idx int) bool {
	i := sort.SearchInts(s, idx)
	return i < len(s) && s[i] == idx
}

// Covers reports whether every index in [0, total) is present.
func (s ChunkSet) Covers(total int) bool {
	if total <= 0 {
		return false
	}
	for idx := 0; idx < total; idx++ {
		if !s.Contains(idx) {
			return false
		}
	}
	return true
}

// Missing returns at most limit of the indices in [0, total) that were never
// received, and how many are missing in total. limit <= 0 lists none.
func (s ChunkSet) Missing(total, limit int) ([]int, int) {
	inRange := 0
	for _, idx := range s {
		if idx >= 0 && idx < total {
			inRange++
		}
	}
	count := total - inRange
	if count <= 0 {
		return nil, 0
	}

	var listed []int
	next := 0 // position in s
	for idx := 0; idx < total && len(listed) < limit; idx++ {
		for next < len(s) && s[next] < idx {
			next++
		}
		if next < len(s) && s[next] == idx {
			continue
		}
		listed = append(listed, idx)
	}
	return listed, count
}

// AudioFile is the upload progress ledger row of an incomplete track.
type AudioFile struct {
	ID             uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	TrackID        string    `json:"trackId" gorm:"size:36;uniqueIndex;not null"`
	TotalChunks    int       `json:"totalChunks" gorm:"not null"`
	UploadedChunks int       `json:"uploadedChunks" gorm:"not null;default:0"` // write attempts, not distinct chunks
	CurrentChunk   int       `json:"currentChunk" gorm:"not null;default:0"`
	ChunkPath      string    `json:"-" gorm:"size:767"` // workspace directory
	UploadStatus   string    `json:"uploadStatus" gorm:"size:20;not null;default:'incomplete'"`
	ReceivedChunks ChunkSet  `json:"receivedChunks" gorm:"type:text"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (AudioFile) TableName() string {
	return "audio_files"
}

// DistinctChunks is the number of different indices written so far.
func (a *AudioFile) DistinctChunks() int {
	return len(a.ReceivedChunks)
}

// Attempts is the number of chunk writes, including resubmissions.
func (a *AudioFile) Attempts() int {
	return a.UploadedChunks
}

// Percent returns distinct-chunk progress in [0, 100].
func (a *AudioFile) Percent() int {
	if a.TotalChunks <= 0 {
		return 0
	}
	p := a.DistinctChunks() * 100 / a.TotalChunks
	if p > 100 {
		p = 100
	}
	return p
}

// ProgressStatusFor mirrors the ledger's row status rule: complete once the last declared index arrives.
func ProgressStatusFor(currentChunk, totalChunks int) string {
	if currentChunk == totalChunks-1 {
		return ProgressStatusComplete
	}
	return ProgressStatusIncomplete
}

// IncompleteUpload is what a client needs to resume an upload.
type IncompleteUpload struct {
	TrackID        string   `json:"trackId"`
	FileName       string   `json:"fileName"`
	Title          string   `json:"title,omitempty"`
	Artist         string   `json:"artist,omitempty"`
	Status         string   `json:"status"`
	TotalChunks    int      `json:"totalChunks"`
	UploadedChunks int      `json:"uploadedChunks"`
	CurrentChunk   int      `json:"currentChunk"`
	ReceivedChunks ChunkSet `json:"receivedChunks"`
}
