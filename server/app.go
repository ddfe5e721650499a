package server

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ssebide/music-platform/cache"
	"github.com/ssebide/music-platform/config"
	"github.com/ssebide/music-platform/core/audio"
	"github.com/ssebide/music-platform/core/auth"
	"github.com/ssebide/music-platform/core/upload"
	"github.com/ssebide/music-platform/db"
	"github.com/ssebide/music-platform/repository"
	"github.com/ssebide/music-platform/storage"
)

// App holds the wired upload engine and its collaborators.
type App struct {
	Config  *config.Config
	Repo    repository.UploadRepository
	Store   *upload.ChunkStore
	Service *upload.Service
	Hub     *ProgressHub
	Tokens  *auth.TokenManager

	closers []func() error
}

// NewApp connects the ledger, lock backend and publisher selected by cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	for _, dir := range []string{cfg.UploadDir, cfg.WorkspaceDir, cfg.AudioDir} {
		if err := ensureDirExists(dir); err != nil {
			return nil, err
		}
	}

	switch cfg.LedgerDriver {
	case "memory":
		log.Println("Using in-memory upload ledger; progress is lost on restart.")
		app.Repo = repository.NewMemoryUploadRepository()
	case "mysql", "":
		if err := db.ConnectGormDB(cfg); err != nil {
			return nil, err
		}
		app.closers = append(app.closers, db.CloseGormDB)
		if err := db.AutoMigrateModels(repository.Models()...); err != nil {
			app.Close()
			return nil, err
		}
		app.Repo = repository.NewGormUploadRepository(db.GormDB)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}

	var locker upload.Locker = upload.NewKeyedMutex()
	if cfg.LockBackend == "redis" {
		if err := db.ConnectRedis(cfg); err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, db.CloseRedis)
		locker = upload.ChainLocker{locker, cache.NewRedisLocker(db.RedisClient, cfg.LockTTL)}
		log.Println("Successfully connected to Redis")
	}

	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Tokens = auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiry)
	app.Hub = NewProgressHub(app.Tokens)
	app.Store = upload.NewChunkStore(cfg.WorkspaceDir)
	app.Service = upload.NewService(upload.Deps{
		Repo:          app.Repo,
		Store:         app.Store,
		Assembler:     upload.NewAssembler(app.Store, cfg.AudioDir),
		Prober:        audio.NewDurationProber(cfg.FFprobePath),
		Locker:        locker,
		Notifier:      app.Hub,
		Publisher:     publisher,
		PublishPrefix: cfg.PublishPrefix,
	})
	return app, nil
}

func newPublisher(ctx context.Context, cfg *config.Config) (upload.Publisher, error) {
	switch cfg.PublishBackend {
	case "":
		return nil, nil
	case "minio":
		return storage.NewMinioPublisher(cfg)
	case "s3":
		return storage.NewS3Publisher(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown publish backend %q", cfg.PublishBackend)
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	if a.Hub != nil {
		a.Hub.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}
	a.closers = nil
}

func ensureDirExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("Creating directory: %s", path)
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to check directory %s: %w", path, err)
	}
	return nil
}
