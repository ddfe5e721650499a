package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ssebide/music-platform/core/upload"
	"github.com/ssebide/music-platform/logger"
	"github.com/ssebide/music-platform/model"

	"github.com/docker/go-units"
	"github.com/gorilla/mux"
)

// multipart envelope allowance on top of the chunk itself
const formOverhead = 1 * units.MiB

// UploadHandler serves the chunked upload API.
type UploadHandler struct {
	svc          *upload.Service
	maxChunkSize int64
}

// NewUploadHandler 创建上传处理器
func NewUploadHandler(svc *upload.Service, maxChunkSize int64) *UploadHandler {
	return &UploadHandler{svc: svc, maxChunkSize: maxChunkSize}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps upload errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, upload.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrTrackNotFound):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrTrackForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func formInt(r *http.Request, keys ...string) (int, bool, error) {
	for _, k := range keys {
		v := r.FormValue(k)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, true, fmt.Errorf("%s must be an integer", k)
		}
		return n, true, nil
	}
	return 0, false, nil
}

// SubmitChunkHandler handles POST /api/upload.
func (h *UploadHandler) SubmitChunkHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkSize+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("chunk exceeds %s", units.BytesSize(float64(h.maxChunkSize))))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	chunkIndex, ok, err := formInt(r, "chunkIndex", "chunkNumber")
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, "chunkIndex is required and must be an integer")
		return
	}
	totalChunks, ok, err := formInt(r, "totalChunks")
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, "totalChunks is required and must be an integer")
		return
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "chunk file is required")
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(io.LimitReader(file, h.maxChunkSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read chunk")
		return
	}
	if int64(len(payload)) > h.maxChunkSize {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("chunk exceeds %s", units.BytesSize(float64(h.maxChunkSize))))
		return
	}

	res, err := h.svc.SubmitChunk(r.Context(), upload.ChunkRequest{
		UserID:      userID,
		FileName:    r.FormValue("fileName"),
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		TrackID:     r.FormValue("trackId"),
		Payload:     payload,
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.Error("chunk upload failed",
				logger.Int64("userId", userID),
				logger.Chunk(chunkIndex, totalChunks),
				logger.ErrorField(err))
		}
		body := map[string]interface{}{"error": err.Error()}
		if res != nil {
			body["trackId"] = res.TrackID
			body["status"] = res.Status
		}
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// IncompleteUploadsHandler handles GET /api/upload/incomplete.
func (h *UploadHandler) IncompleteUploadsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	uploads, err := h.svc.ListIncomplete(r.Context(), userID)
	if err != nil {
		logger.Error("failed to list incomplete uploads", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, statusFor(err), "failed to list incomplete uploads")
		return
	}
	if uploads == nil {
		uploads = []*model.IncompleteUpload{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"incompleteTrackInfo": uploads})
}

// ProgressHandler handles GET /api/upload/{trackId}/progress.
func (h *UploadHandler) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	snap, err := h.svc.Progress(r.Context(), userID, mux.Vars(r)["trackId"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ReprobeHandler handles POST /api/upload/{trackId}/reprobe.
func (h *UploadHandler) ReprobeHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	trackID := mux.Vars(r)["trackId"]
	if _, err := h.svc.Track(r.Context(), userID, trackID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	res, err := h.svc.Reprobe(r.Context(), trackID)
	if err != nil {
		body := map[string]interface{}{"error": err.Error(), "trackId": trackID}
		if res != nil {
			body["status"] = res.Status
		}
		writeJSON(w, statusFor(err), body)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
