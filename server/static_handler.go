package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/ssebide/music-platform/core/upload"
	"github.com/ssebide/music-platform/logger"
	"github.com/ssebide/music-platform/storage"

	"github.com/gorilla/mux"
)

// AudioFileHandler serves assembled files with byte-range support.
type AudioFileHandler struct {
	audioDir string
}

// NewAudioFileHandler 创建音频文件处理器
func NewAudioFileHandler(audioDir string) *AudioFileHandler {
	return &AudioFileHandler{audioDir: audioDir}
}

// ServeHTTP 实现 http.Handler 接口
func (h *AudioFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := upload.SanitizeFileName(mux.Vars(r)["fileName"])
	if name == "" {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	path := filepath.Join(h.audioDir, name)
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", storage.ContentTypeFor(name))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, name, info.ModTime(), f)
	logger.Debug("served audio file", logger.String("file", name))
}
