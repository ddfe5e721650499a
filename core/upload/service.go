package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/ssebide/music-platform/core/audio"
	"github.com/ssebide/music-platform/logger"
	"github.com/ssebide/music-platform/model"
	"github.com/ssebide/music-platform/repository"
)

const maxListedMissing = 1000

// finishTimeout bounds assembly, probing and finalization once the last chunk is in.
const finishTimeout = 10 * time.Minute

// detached keeps ctx values but not its cancellation: once the workspace is
// consumed, the ledger must be updated even if the client has gone away.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

// ChunkRequest is one chunk submission.
type ChunkRequest struct {
	UserID      int64
	FileName    string
	ChunkIndex  int
	TotalChunks int
	TrackID     string // required when ChunkIndex > 0
	Payload     []byte
}

// ChunkResult reports the upload state after a submission.
type ChunkResult struct {
	TrackID         string `json:"trackId"`
	Status          string `json:"status"`
	UploadedChunks  int    `json:"uploadedChunks"`
	ReceivedChunks  int    `json:"receivedChunks"`
	TotalChunks     int    `json:"totalChunks"`
	DurationSeconds int64  `json:"durationSeconds,omitempty"`
}

// ProgressSnapshot is the resumable state of one upload.
type ProgressSnapshot struct {
	TrackID         string         `json:"trackId"`
	FileName        string         `json:"fileName"`
	Status          string         `json:"status"`
	TotalChunks     int            `json:"totalChunks"`
	UploadedChunks  int            `json:"uploadedChunks"`
	CurrentChunk    int            `json:"currentChunk"`
	ReceivedChunks  model.ChunkSet `json:"receivedChunks"`
	MissingChunks   []int          `json:"missingChunks"` // first maxListedMissing only
	MissingCount    int            `json:"missingCount"`
	Percent         int            `json:"percent"`
	DurationSeconds int64          `json:"durationSeconds,omitempty"`
}

// Deps wires the collaborators of a Service. Locker, Notifier and Publisher are optional.
type Deps struct {
	Repo          repository.UploadRepository
	Store         *ChunkStore
	Assembler     *Assembler
	Prober        audio.Prober
	Locker        Locker
	Notifier      Notifier
	Publisher     Publisher
	PublishPrefix string
}

// Service accepts chunks, tracks progress and turns finished uploads into tracks.
type Service struct {
	repo          repository.UploadRepository
	store         *ChunkStore
	detector      *CompletionDetector
	assembler     *Assembler
	prober        audio.Prober
	locker        Locker
	notifier      Notifier
	publisher     Publisher
	publishPrefix string
}

// NewService 创建上传服务
func NewService(d Deps) *Service {
	s := &Service{
		repo:          d.Repo,
		store:         d.Store,
		detector:      NewCompletionDetector(d.Store),
		assembler:     d.Assembler,
		prober:        d.Prober,
		locker:        d.Locker,
		notifier:      d.Notifier,
		publisher:     d.Publisher,
		publishPrefix: d.PublishPrefix,
	}
	if s.locker == nil {
		s.locker = NewKeyedMutex()
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	return s
}

func validate(req *ChunkRequest) (string, error) {
	name := SanitizeFileName(req.FileName)
	switch {
	case name == "":
		return "", ErrEmptyFileName
	case len(req.Payload) == 0:
		return "", ErrEmptyChunk
	case req.ChunkIndex < 0, req.ChunkIndex >= MaxChunks:
		return "", ErrInvalidChunkIndex
	case req.TotalChunks < 1, req.TotalChunks > MaxChunks:
		return "", ErrInvalidTotalChunks
	case req.ChunkIndex > 0 && req.TrackID == "":
		return "", ErrMissingTrackReference
	}
	return name, nil
}

// SubmitChunk stores one chunk and, when it completes the upload, assembles,
// probes and finalizes the track before returning. Chunk 0 always starts a new track.
func (s *Service) SubmitChunk(ctx context.Context, req ChunkRequest) (*ChunkResult, error) {
	name, err := validate(&req)
	if err != nil {
		return nil, err
	}

	trackID := req.TrackID
	if req.ChunkIndex == 0 {
		trackID, err = s.repo.CreateTrack(ctx, req.UserID, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		logger.Info("new upload started",
			logger.TrackID(trackID),
			logger.Int64("userId", req.UserID),
			logger.String("fileName", name),
			logger.Int("totalChunks", req.TotalChunks))
	}

	unlock, err := s.locker.Lock(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock track %s: %w", trackID, err)
	}
	defer unlock()

	track, err := s.loadOwnedTrack(ctx, req.UserID, trackID)
	if err != nil {
		return nil, err
	}
	if track.Finished() {
		return nil, fmt.Errorf("%w: track %s is %s", ErrTrackFinished, trackID, track.UploadStatus)
	}

	prev, err := s.repo.GetProgress(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if dest, ok := s.orphanedAssembly(track, prev); ok {
		logger.Warn("assembled file was never finalized, finishing it",
			logger.TrackID(trackID),
			logger.String("path", dest))
		finishCtx, cancel := detached(ctx)
		defer cancel()
		result := &ChunkResult{
			TrackID:        trackID,
			Status:         model.TrackStatusAssembled,
			UploadedChunks: prev.UploadedChunks,
			ReceivedChunks: prev.DistinctChunks(),
			TotalChunks:    prev.TotalChunks,
		}
		return s.finish(finishCtx, track, dest, result, nil)
	}
	var uploaded int
	var received model.ChunkSet
	if prev != nil {
		uploaded = prev.UploadedChunks
		received = prev.ReceivedChunks
	}
	uploaded++
	received = received.With(req.ChunkIndex)

	workspace := s.store.Workspace(trackID)
	if _, err := s.store.WriteChunk(workspace, req.ChunkIndex, req.Payload); err != nil {
		logger.Error("failed to store chunk",
			logger.TrackID(trackID),
			logger.Chunk(req.ChunkIndex, req.TotalChunks),
			logger.ErrorField(err))
		return nil, fmt.Errorf("failed to store chunk: %w", err)
	}

	af, err := s.repo.UpsertProgress(ctx, repository.ProgressUpdate{
		TrackID:        trackID,
		TotalChunks:    req.TotalChunks,
		UploadedChunks: uploaded,
		CurrentChunk:   req.ChunkIndex,
		ChunkPath:      workspace,
		ReceivedChunks: received,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	logger.Debug("chunk stored",
		logger.TrackID(trackID),
		logger.Chunk(req.ChunkIndex, req.TotalChunks),
		logger.Int("uploadedChunks", uploaded))

	s.notify(ctx, track, EventChunkReceived, func(e *Event) {
		e.ChunkIndex = req.ChunkIndex
		e.TotalChunks = req.TotalChunks
		e.UploadedChunks = af.UploadedChunks
		e.ReceivedChunks = af.DistinctChunks()
	})

	result := &ChunkResult{
		TrackID:        trackID,
		Status:         model.TrackStatusIncomplete,
		UploadedChunks: af.UploadedChunks,
		ReceivedChunks: af.DistinctChunks(),
		TotalChunks:    af.TotalChunks,
	}

	complete, err := s.detector.IsComplete(workspace, req.TotalChunks, received)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssemblyIO, err)
	}
	if !complete {
		return result, nil
	}

	finishCtx, cancel := detached(ctx)
	defer cancel()

	dest, err := s.assembler.Assemble(workspace, track.FileName, req.TotalChunks)
	var cleanupErr error
	if err != nil {
		if dest == "" {
			logger.Error("assembly failed", logger.TrackID(trackID), logger.ErrorField(err))
			s.notify(finishCtx, track, EventFailed, func(e *Event) { e.Error = err.Error() })
			return nil, err
		}
		// the file is whole; only the workspace could not be removed
		logger.Error("failed to clean workspace after assembly",
			logger.TrackID(trackID),
			logger.String("workspace", workspace),
			logger.ErrorField(err))
		cleanupErr = err
	}
	return s.finish(finishCtx, track, dest, result, cleanupErr)
}

// finish probes and finalizes an assembled file. A workspace cleanup failure is
// reported only after the track has been finalized.
func (s *Service) finish(ctx context.Context, track *model.Track, dest string, result *ChunkResult, cleanupErr error) (*ChunkResult, error) {
	duration, err := s.probeAndFinalize(ctx, track, dest)
	if err != nil {
		if errors.Is(err, ErrUnprobeableMedia) {
			result.Status = model.TrackStatusAssembled
		}
		return result, err
	}
	result.Status = model.TrackStatusComplete
	result.DurationSeconds = duration
	return result, cleanupErr
}

// orphanedAssembly detects an upload whose workspace was consumed by assembly
// but whose track was never finalized or marked assembled.
func (s *Service) orphanedAssembly(track *model.Track, af *model.AudioFile) (string, bool) {
	if track.UploadStatus != model.TrackStatusIncomplete || af == nil || !af.ReceivedChunks.Covers(af.TotalChunks) {
		return "", false
	}
	workspace := af.ChunkPath
	if workspace == "" {
		workspace = s.store.Workspace(track.ID)
	}
	if _, err := os.Stat(workspace); !os.IsNotExist(err) {
		return "", false
	}
	dest := s.assembler.DestinationPath(track.FileName)
	info, err := os.Stat(dest)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return dest, true
}

// probeAndFinalize runs with the track lock held.
func (s *Service) probeAndFinalize(ctx context.Context, track *model.Track, dest string) (int64, error) {
	probe, err := s.prober.Probe(ctx, dest)
	if err != nil {
		logger.Warn("duration probe failed, track left assembled",
			logger.TrackID(track.ID),
			logger.String("path", dest),
			logger.ErrorField(err))
		if markErr := s.repo.MarkAssembled(ctx, track.ID, dest); markErr != nil {
			return 0, fmt.Errorf("%w: %v", ErrPersistence, markErr)
		}
		s.notify(ctx, track, EventAssembled, func(e *Event) { e.Error = err.Error() })
		if !errors.Is(err, ErrUnprobeableMedia) {
			err = fmt.Errorf("%w: %v", ErrUnprobeableMedia, err)
		}
		return 0, err
	}

	duration := probe.WholeSeconds()
	if err := s.repo.Finalize(ctx, track.ID, duration, dest); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	logger.Info("upload completed",
		logger.TrackID(track.ID),
		logger.String("path", dest),
		logger.String("format", probe.Format),
		logger.Int64("durationSeconds", duration))

	s.notify(ctx, track, EventCompleted, func(e *Event) { e.DurationSeconds = duration })
	s.publish(ctx, track.ID, dest)
	return duration, nil
}

// Reprobe retries the duration probe of an assembled track and finalizes it on success.
// It also finishes uploads whose assembly completed but was never recorded.
func (s *Service) Reprobe(ctx context.Context, trackID string) (*ChunkResult, error) {
	unlock, err := s.locker.Lock(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock track %s: %w", trackID, err)
	}
	defer unlock()

	track, err := s.repo.GetTrack(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if track == nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	dest := track.FilePath
	if track.UploadStatus != model.TrackStatusAssembled {
		af, err := s.repo.GetProgress(ctx, trackID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		orphan, ok := s.orphanedAssembly(track, af)
		if !ok {
			return nil, fmt.Errorf("%w: track %s is %s", ErrNotAssembled, trackID, track.UploadStatus)
		}
		dest = orphan
	}
	if dest == "" {
		dest = s.assembler.DestinationPath(track.FileName)
	}
	finishCtx, cancel := detached(ctx)
	defer cancel()
	return s.finish(finishCtx, track, dest, &ChunkResult{TrackID: trackID, Status: model.TrackStatusAssembled}, nil)
}

// Track returns a track owned by userID.
func (s *Service) Track(ctx context.Context, userID int64, trackID string) (*model.Track, error) {
	return s.loadOwnedTrack(ctx, userID, trackID)
}

// ListIncomplete returns the uploads of userID that can be resumed or are waiting for a probe.
func (s *Service) ListIncomplete(ctx context.Context, userID int64) ([]*model.IncompleteUpload, error) {
	uploads, err := s.repo.ListIncomplete(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return uploads, nil
}

// Progress returns the state of one upload owned by userID.
func (s *Service) Progress(ctx context.Context, userID int64, trackID string) (*ProgressSnapshot, error) {
	track, err := s.loadOwnedTrack(ctx, userID, trackID)
	if err != nil {
		return nil, err
	}
	af, err := s.repo.GetProgress(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	snap := &ProgressSnapshot{
		TrackID:         track.ID,
		FileName:        track.FileName,
		Status:          track.UploadStatus,
		DurationSeconds: track.DurationSeconds,
	}
	if af != nil {
		snap.TotalChunks = af.TotalChunks
		snap.UploadedChunks = af.UploadedChunks
		snap.CurrentChunk = af.CurrentChunk
		snap.ReceivedChunks = af.ReceivedChunks
		snap.MissingChunks, snap.MissingCount = af.ReceivedChunks.Missing(af.TotalChunks, maxListedMissing)
		snap.Percent = af.Percent()
	}
	if track.UploadStatus == model.TrackStatusComplete {
		snap.Percent = 100
	}
	return snap, nil
}

func (s *Service) loadOwnedTrack(ctx context.Context, userID int64, trackID string) (*model.Track, error) {
	track, err := s.repo.GetTrack(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if track == nil {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	if track.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrTrackForbidden, trackID)
	}
	return track, nil
}

func (s *Service) notify(ctx context.Context, track *model.Track, eventType string, fill func(*Event)) {
	e := Event{
		Type:     eventType,
		UserID:   track.UserID,
		TrackID:  track.ID,
		FileName: track.FileName,
		Time:     time.Now(),
	}
	if fill != nil {
		fill(&e)
	}
	s.notifier.Notify(ctx, e)
}

func (s *Service) publish(ctx context.Context, trackID, localPath string) {
	if s.publisher == nil {
		return
	}
	objectName := path.Join(s.publishPrefix, filepath.Base(localPath))
	location, err := s.publisher.Publish(ctx, localPath, objectName)
	if err != nil {
		logger.Error("failed to publish assembled file",
			logger.TrackID(trackID),
			logger.String("object", objectName),
			logger.ErrorField(err))
		return
	}
	logger.Info("assembled file published",
		logger.TrackID(trackID),
		logger.String("location", location))
}
