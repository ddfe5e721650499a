package upload

import (
	"context"
	"time"
)

// Event types pushed to progress subscribers.
const (
	EventChunkReceived = "chunk_received"
	EventAssembled     = "assembled"
	EventCompleted     = "completed"
	EventFailed        = "failed"
)

// Event describes a state change of one upload.
type Event struct {
	Type            string    `json:"type"`
	UserID          int64     `json:"-"`
	TrackID         string    `json:"trackId"`
	FileName        string    `json:"fileName"`
	ChunkIndex      int       `json:"chunkIndex"`
	TotalChunks     int       `json:"totalChunks"`
	UploadedChunks  int       `json:"uploadedChunks"`
	ReceivedChunks  int       `json:"receivedChunks"`
	DurationSeconds int64     `json:"durationSeconds,omitempty"`
	Error           string    `json:"error,omitempty"`
	Time            time.Time `json:"time"`
}

// Notifier receives upload events. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

// Publisher mirrors a finished file to external storage.
type Publisher interface {
	Publish(ctx context.Context, localPath, objectName string) (string, error)
}
