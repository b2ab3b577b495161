package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"VoxFM/core/upload"
	"VoxFM/logger"
	"VoxFM/storage"

	"github.com/gorilla/mux"
)

// presignRequest describes one file to be uploaded directly to the bucket.
type presignRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// presignResponse pairs the generated object key with its upload URL.
type presignResponse struct {
	ObjectKey string `json:"objectKey"`
	UploadURL string `json:"uploadUrl"`
	Error     string `json:"error,omitempty"`
}

// PresignUploadHandler issues a presigned PUT URL for one direct upload.
func (h *APIHandler) PresignUploadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		respondError(w, http.StatusBadRequest, "BadRequest", "filename is required")
		return
	}

	key, url, err := h.store.PutCloud(r.Context(), userID, req.Filename, req.ContentType)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, presignResponse{ObjectKey: key, UploadURL: url})
}

// PresignUploadBatchHandler issues presigned PUT URLs for several files.
// 批量大小有上限，避免一次请求生成几百个URL。
func (h *APIHandler) PresignUploadBatchHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Files []presignRequest `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
		return
	}
	if len(req.Files) == 0 {
		respondError(w, http.StatusBadRequest, "BadRequest", "files must not be empty")
		return
	}
	if len(req.Files) > h.cfg.PresignBatchMax {
		respondError(w, http.StatusBadRequest, "BadRequest",
			"Too many files in one batch, limit is "+strconv.Itoa(h.cfg.PresignBatchMax))
		return
	}

	results := make([]presignResponse, len(req.Files))
	for i, f := range req.Files {
		if strings.TrimSpace(f.Filename) == "" {
			results[i] = presignResponse{Error: "filename is required"}
			continue
		}
		key, url, err := h.store.PutCloud(r.Context(), userID, f.Filename, f.ContentType)
		if err != nil {
			if errors.Is(err, storage.ErrStorageUnavailable) {
				// 云存储整体不可用，后续条目不用再试
				respondStorageError(w, err)
				return
			}
			results[i] = presignResponse{Error: "failed to presign upload"}
			continue
		}
		results[i] = presignResponse{ObjectKey: key, UploadURL: url}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// ProxyUploadHandler uploads the raw request body to the bucket on the
// client's behalf. 浏览器直传被CORS挡住的部署用这个兜底。
func (h *APIHandler) ProxyUploadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	filename := r.Header.Get("X-Filename")
	if filename == "" {
		respondError(w, http.StatusBadRequest, "BadRequest", "X-Filename header is required")
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxInlineAudioBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "Upload body exceeds the configured limit")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "BadRequest", "Upload body is empty")
		return
	}

	key, err := h.store.ProxyPut(r.Context(), userID, filename, contentType, data)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"objectKey": key})
}

// InitChunkedUploadHandler creates a chunked upload session and its track row.
func (h *APIHandler) InitChunkedUploadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Title        string  `json:"title"`
		Artist       string  `json:"artist"`
		Album        string  `json:"album"`
		Duration     float32 `json:"duration"`
		CoverArtPath string  `json:"coverArtPath"`
		TotalChunks  int     `json:"totalChunks"`
		TotalSize    int64   `json:"totalSize"`
		MimeType     string  `json:"mimeType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "BadRequest", "Title is required")
		return
	}
	if req.TotalChunks <= 0 {
		respondError(w, http.StatusBadRequest, "BadRequest", "totalChunks must be positive")
		return
	}
	if req.MimeType == "" {
		req.MimeType = "audio/mpeg"
	}

	sessionID, trackID, err := h.uploads.Init(userID, req.TotalChunks, req.TotalSize, req.MimeType, upload.TrackMeta{
		Title:        req.Title,
		Artist:       req.Artist,
		Album:        req.Album,
		Duration:     req.Duration,
		CoverArtPath: req.CoverArtPath,
	})
	if err != nil {
		logger.Error("创建分片上传会话失败", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Failed to create upload session")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId":   sessionID,
		"trackId":     trackID,
		"totalChunks": req.TotalChunks,
	})
}

// PutChunkHandler stores one chunk of a session. Resubmitting an index is
// idempotent.
func (h *APIHandler) PutChunkHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	sessionID := vars["sessionId"]
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid chunk index")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxChunkBytes+1))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "Chunk exceeds the configured limit")
		return
	}

	received, complete, err := h.uploads.PutChunk(sessionID, userID, index, payload)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrSessionNotFound):
			respondError(w, http.StatusNotFound, "SessionNotFound", "Upload session not found or expired")
		case errors.Is(err, upload.ErrSessionForbidden):
			respondError(w, http.StatusForbidden, "Forbidden", "Upload session belongs to another user")
		case errors.Is(err, storage.ErrPayloadTooLarge):
			respondError(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "Chunk exceeds the configured limit")
		default:
			respondError(w, http.StatusBadRequest, "BadRequest", err.Error())
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"received": received,
		"complete": complete,
	})
}

// FinalizeChunkedUploadHandler assembles the session into the track's inline
// audio and dispatches transcription.
func (h *APIHandler) FinalizeChunkedUploadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	sessionID := mux.Vars(r)["sessionId"]

	track, err := h.uploads.Finalize(r.Context(), sessionID, userID)
	if err != nil {
		var incomplete *upload.IncompleteUploadError
		switch {
		case errors.Is(err, upload.ErrSessionNotFound):
			respondError(w, http.StatusNotFound, "SessionNotFound", "Upload session not found or expired")
		case errors.Is(err, upload.ErrSessionForbidden):
			respondError(w, http.StatusForbidden, "Forbidden", "Upload session belongs to another user")
		case errors.As(err, &incomplete):
			respondJSON(w, http.StatusConflict, map[string]interface{}{
				"error":        "IncompleteUpload",
				"message":      incomplete.Error(),
				"missingIndex": incomplete.MissingIndex,
				"received":     incomplete.Received,
				"total":        incomplete.Total,
			})
		default:
			respondStorageError(w, err)
		}
		return
	}

	respondJSON(w, http.StatusOK, track)
}
