package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ssebide/music-platform/config"
	"github.com/ssebide/music-platform/logger"

	"github.com/gorilla/mux"
)

// NewRouter registers every route of the upload API.
func NewRouter(app *App) *mux.Router {
	uploadHandler := NewUploadHandler(app.Service, app.Config.MaxChunkSize)
	audioHandler := NewAudioFileHandler(app.Config.AudioDir)
	authed := func(h http.HandlerFunc) http.HandlerFunc { return AuthMiddleware(app.Tokens, h) }

	router := mux.NewRouter()
	router.Use(corsMiddleware, loggingMiddleware)

	router.HandleFunc("/api/upload", authed(uploadHandler.SubmitChunkHandler)).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/upload/incomplete", authed(uploadHandler.IncompleteUploadsHandler)).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/upload/{trackId}/progress", authed(uploadHandler.ProgressHandler)).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/api/upload/{trackId}/reprobe", authed(uploadHandler.ReprobeHandler)).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/ws/uploads", app.Hub.ServeWS).Methods(http.MethodGet)
	router.Handle("/audio/{fileName}", audioHandler).Methods(http.MethodGet, http.MethodHead)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := app.Repo.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return router
}

// Start initializes and starts the HTTP server.
func Start(cfg *config.Config) {
	app, err := NewApp(context.Background(), cfg)
	if err != nil {
		logger.Fatal("failed to initialize upload engine", logger.ErrorField(err))
	}
	defer app.Close()

	// 设置服务器超时
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewRouter(app),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", cfg.HTTPAddr)
		log.Printf("Upload chunks via POST to /api/upload (max chunk %d bytes)", cfg.MaxChunkSize)
		log.Println("Resume uploads via GET /api/upload/incomplete, follow progress on /ws/uploads")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	// 等待中断信号
	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", logger.ErrorField(err))
	}

	log.Println("Server stopped")
}
