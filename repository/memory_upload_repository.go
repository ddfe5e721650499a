package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ssebide/music-platform/model"

	"github.com/google/uuid"
)

// memoryUploadRepository keeps the ledger in process memory. Used for
// LEDGER_DRIVER=memory and in tests.
type memoryUploadRepository struct {
	mu       sync.Mutex
	tracks   map[string]*model.Track
	progress map[string]*model.AudioFile
	nextID   uint
}

// NewMemoryUploadRepository 创建内存上传仓库
func NewMemoryUploadRepository() UploadRepository {
	return &memoryUploadRepository{
		tracks:   make(map[string]*model.Track),
		progress: make(map[string]*model.AudioFile),
	}
}

func (r *memoryUploadRepository) CreateTrack(_ context.Context, userID int64, fileName string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	track := &model.Track{
		ID:           uuid.NewString(),
		UserID:       userID,
		FileName:     fileName,
		UploadStatus: model.TrackStatusIncomplete,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.tracks[track.ID] = track
	return track.ID, nil
}

func (r *memoryUploadRepository) GetTrack(_ context.Context, trackID string) (*model.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	track, ok := r.tracks[trackID]
	if !ok {
		return nil, nil
	}
	cp := *track
	return &cp, nil
}

func (r *memoryUploadRepository) GetProgress(_ context.Context, trackID string) (*model.AudioFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	af, ok := r.progress[trackID]
	if !ok {
		return nil, nil
	}
	return copyAudioFile(af), nil
}

func (r *memoryUploadRepository) UpsertProgress(_ context.Context, u ProgressUpdate) (*model.AudioFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	af, ok := r.progress[u.TrackID]
	if !ok {
		r.nextID++
		af = &model.AudioFile{ID: r.nextID, TrackID: u.TrackID, CreatedAt: now}
		r.progress[u.TrackID] = af
	}
	af.TotalChunks = u.TotalChunks
	af.UploadedChunks = u.UploadedChunks
	af.CurrentChunk = u.CurrentChunk
	af.ChunkPath = u.ChunkPath
	af.UploadStatus = model.ProgressStatusFor(u.CurrentChunk, u.TotalChunks)
	af.ReceivedChunks = model.ChunkSet(nil).With(u.ReceivedChunks...)
	af.UpdatedAt = now
	return copyAudioFile(af), nil
}

func (r *memoryUploadRepository) Finalize(_ context.Context, trackID string, durationSeconds int64, filePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	track, ok := r.tracks[trackID]
	if !ok {
		return fmt.Errorf("finalize track %s: %w", trackID, ErrTrackNotFound)
	}
	track.UploadStatus = model.TrackStatusComplete
	track.DurationSeconds = durationSeconds
	track.FilePath = filePath
	track.UpdatedAt = time.Now()
	delete(r.progress, trackID)
	return nil
}

func (r *memoryUploadRepository) MarkAssembled(_ context.Context, trackID string, filePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	track, ok := r.tracks[trackID]
	if !ok {
		return fmt.Errorf("mark track %s assembled: %w", trackID, ErrTrackNotFound)
	}
	track.UploadStatus = model.TrackStatusAssembled
	track.FilePath = filePath
	track.UpdatedAt = time.Now()
	return nil
}

func (r *memoryUploadRepository) DeleteProgress(_ context.Context, trackID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.progress, trackID)
	return nil
}

func (r *memoryUploadRepository) ListIncomplete(_ context.Context, userID int64) ([]*model.IncompleteUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tracks []*model.Track
	for _, t := range r.tracks {
		if t.UserID != userID || t.UploadStatus == model.TrackStatusComplete {
			continue
		}
		if _, ok := r.progress[t.ID]; !ok {
			continue
		}
		tracks = append(tracks, t)
	}
	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].CreatedAt.After(tracks[j].CreatedAt)
	})

	uploads := make([]*model.IncompleteUpload, 0, len(tracks))
	for _, t := range tracks {
		af := r.progress[t.ID]
		uploads = append(uploads, &model.IncompleteUpload{
			TrackID:        t.ID,
			FileName:       t.FileName,
			Title:          t.Title,
			Artist:         t.Artist,
			Status:         t.UploadStatus,
			TotalChunks:    af.TotalChunks,
			UploadedChunks: af.UploadedChunks,
			CurrentChunk:   af.CurrentChunk,
			ReceivedChunks: model.ChunkSet(nil).With(af.ReceivedChunks...),
		})
	}
	return uploads, nil
}

func (r *memoryUploadRepository) Ping(context.Context) error {
	return nil
}

func copyAudioFile(af *model.AudioFile) *model.AudioFile {
	cp := *af
	cp.ReceivedChunks = model.ChunkSet(nil).With(af.ReceivedChunks...)
	return &cp
}
