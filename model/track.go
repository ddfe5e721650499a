package model

import "time"

// Track upload states.
const (
	TrackStatusIncomplete = "incomplete"
	// TrackStatusAssembled means the bytes were concatenated but the duration probe failed.
	TrackStatusAssembled = "assembled"
	TrackStatusComplete  = "complete"
)

// Track represents one user-initiated audio upload (the logical file).
type Track struct {
	ID              string    `json:"id" gorm:"primaryKey;size:36"`
	UserID          int64     `json:"userId" gorm:"index;not null"`
	Title           string    `json:"title" gorm:"size:255"`
	Artist          string    `json:"artist" gorm:"size:255"`
	FileName        string    `json:"fileName" gorm:"size:255;not null"`
	FilePath        string    `json:"-" gorm:"size:767"` // Path to the assembled file, set once assembled
	UploadStatus    string    `json:"uploadStatus" gorm:"size:20;not null;default:'incomplete';index"`
	DurationSeconds int64     `json:"durationSeconds"` // Only meaningful when complete
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}

// Finished reports whether the track no longer accepts chunks.
func (t *Track) Finished() bool {
	return t.UploadStatus == TrackStatusComplete || t.UploadStatus == TrackStatusAssembled
}
