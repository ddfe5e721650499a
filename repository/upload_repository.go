package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ssebide/music-platform/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTrackNotFound is returned when an update targets a track that does not exist.
var ErrTrackNotFound = errors.New("track not found")

// ProgressUpdate carries one ledger mutation for a chunk write.
// UploadedChunks, CurrentChunk and ReceivedChunks are always written together.
type ProgressUpdate struct {
	TrackID        string
	TotalChunks    int
	UploadedChunks int
	CurrentChunk   int
	ChunkPath      string
	ReceivedChunks model.ChunkSet
}

// UploadRepository is the persistence contract of the upload engine.
type UploadRepository interface {
	CreateTrack(ctx context.Context, userID int64, fileName string) (string, error)
	// GetTrack returns nil, nil when the track does not exist.
	GetTrack(ctx context.Context, trackID string) (*model.Track, error)
	// GetProgress returns nil, nil when no progress row exists.
	GetProgress(ctx context.Context, trackID string) (*model.AudioFile, error)
	UpsertProgress(ctx context.Context, update ProgressUpdate) (*model.AudioFile, error)
	// Finalize marks the track complete and deletes its progress row atomically.
	Finalize(ctx context.Context, trackID string, durationSeconds int64, filePath string) error
	// MarkAssembled records an assembled file whose duration could not be probed.
	MarkAssembled(ctx context.Context, trackID string, filePath string) error
	DeleteProgress(ctx context.Context, trackID string) error
	ListIncomplete(ctx context.Context, userID int64) ([]*model.IncompleteUpload, error)
	Ping(ctx context.Context) error
}

// gormUploadRepository GORM 实现
type gormUploadRepository struct {
	db *gorm.DB
}

// NewGormUploadRepository 创建 GORM 上传仓库
func NewGormUploadRepository(db *gorm.DB) UploadRepository {
	return &gormUploadRepository{db: db}
}

// Models lists the tables owned by the upload ledger, for AutoMigrate.
func Models() []interface{} {
	return []interface{}{&model.Track{}, &model.AudioFile{}}
}

func (r *gormUploadRepository) CreateTrack(ctx context.Context, userID int64, fileName string) (string, error) {
	track := &model.Track{
		ID:           uuid.NewString(),
		UserID:       userID,
		FileName:     fileName,
		UploadStatus: model.TrackStatusIncomplete,
	}
	if err := r.db.WithContext(ctx).Create(track).Error; err != nil {
		return "", fmt.Errorf("failed to create track for user %d: %w", userID, err)
	}
	return track.ID, nil
}

func (r *gormUploadRepository) GetTrack(ctx context.Context, trackID string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Where("id = ?", trackID).First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get track %s: %w", trackID, err)
	}
	return &track, nil
}

func (r *gormUploadRepository) GetProgress(ctx context.Context, trackID string) (*model.AudioFile, error) {
	var af model.AudioFile
	err := r.db.WithContext(ctx).Where("track_id = ?", trackID).First(&af).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get progress for track %s: %w", trackID, err)
	}
	return &af, nil
}

func (r *gormUploadRepository) UpsertProgress(ctx context.Context, u ProgressUpdate) (*model.AudioFile, error) {
	row := &model.AudioFile{
		TrackID:        u.TrackID,
		TotalChunks:    u.TotalChunks,
		UploadedChunks: u.UploadedChunks,
		CurrentChunk:   u.CurrentChunk,
		ChunkPath:      u.ChunkPath,
		UploadStatus:   model.ProgressStatusFor(u.CurrentChunk, u.TotalChunks),
		ReceivedChunks: u.ReceivedChunks,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "track_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_chunks", "uploaded_chunks", "current_chunk",
			"chunk_path", "upload_status", "received_chunks", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert progress for track %s: %w", u.TrackID, err)
	}
	return row, nil
}

func (r *gormUploadRepository) Finalize(ctx context.Context, trackID string, durationSeconds int64, filePath string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Track{}).
			Where("id = ?", trackID).
			Updates(map[string]interface{}{
				"upload_status":    model.TrackStatusComplete,
				"duration_seconds": durationSeconds,
				"file_path":        filePath,
				"updated_at":       time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to finalize track %s: %w", trackID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("finalize track %s: %w", trackID, ErrTrackNotFound)
		}
		if err := tx.Where("track_id = ?", trackID).Delete(&model.AudioFile{}).Error; err != nil {
			return fmt.Errorf("failed to delete progress for track %s: %w", trackID, err)
		}
		return nil
	})
}

func (r *gormUploadRepository) MarkAssembled(ctx context.Context, trackID string, filePath string) error {
	res := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ?", trackID).
		Updates(map[string]interface{}{
			"upload_status": model.TrackStatusAssembled,
			"file_path":     filePath,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark track %s assembled: %w", trackID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("mark track %s assembled: %w", trackID, ErrTrackNotFound)
	}
	return nil
}

func (r *gormUploadRepository) DeleteProgress(ctx context.Context, trackID string) error {
	if err := r.db.WithContext(ctx).Where("track_id = ?", trackID).Delete(&model.AudioFile{}).Error; err != nil {
		return fmt.Errorf("failed to delete progress for track %s: %w", trackID, err)
	}
	return nil
}

// ListIncomplete joins tracks with their progress rows for resumable uploads.
func (r *gormUploadRepository) ListIncomplete(ctx context.Context, userID int64) ([]*model.IncompleteUpload, error) {
	type row struct {
		TrackID        string
		FileName       string
		Title          string
		Artist         string
		UploadStatus   string
		TotalChunks    int
		UploadedChunks int
		CurrentChunk   int
		ReceivedChunks model.ChunkSet
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Table("tracks AS t").
		Select("t.id AS track_id, t.file_name, t.title, t.artist, t.upload_status, " +
			"af.total_chunks, af.uploaded_chunks, af.current_chunk, af.received_chunks").
		Joins("JOIN audio_files af ON af.track_id = t.id").
		Where("t.user_id = ? AND t.upload_status IN ?", userID,
			[]string{model.TrackStatusIncomplete, model.TrackStatusAssembled}).
		Order("t.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete uploads for user %d: %w", userID, err)
	}

	uploads := make([]*model.IncompleteUpload, 0, len(rows))
	for _, r := range rows {
		uploads = append(uploads, &model.IncompleteUpload{
			TrackID:        r.TrackID,
			FileName:       r.FileName,
			Title:          r.Title,
			Artist:         r.Artist,
			Status:         r.UploadStatus,
			TotalChunks:    r.TotalChunks,
			UploadedChunks: r.UploadedChunks,
			CurrentChunk:   r.CurrentChunk,
			ReceivedChunks: r.ReceivedChunks,
		})
	}
	return uploads, nil
}

func (r *gormUploadRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
