package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"VoxFM/core/ingest"
	"VoxFM/logger"

	"github.com/gorilla/mux"
)

// trackIDFromRequest parses the {id} path variable.
func trackIDFromRequest(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// parseFloat32 is a lenient form-field float parser, empty means zero.
func parseFloat32(s string) float32 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return 0
	}
	return float32(f)
}

// GetTracksHandler lists the caller's tracks, newest first.
func (h *APIHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	tracks, err := h.trackRepo.GetAllTracksByUserID(userID)
	if err != nil {
		logger.Error("查询曲目列表失败",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, tracks)
}

// UploadTrackHandler handles inline track creation from a multipart form.
// Expected fields:
// - trackFile: the audio file (WAV, MP3, etc.)
// - title: track title
// - artist, album, duration, coverArtPath: optional metadata
func (h *APIHandler) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32MB max memory
		respondError(w, http.StatusBadRequest, "BadRequest", "Failed to parse multipart form")
		return
	}

	trackFile, trackHeader, err := r.FormFile("trackFile")
	if err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Missing 'trackFile' in form")
		return
	}
	defer trackFile.Close()

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		respondError(w, http.StatusBadRequest, "BadRequest", "Title is required")
		return
	}

	audio, err := io.ReadAll(trackFile)
	if err != nil {
		logger.Error("读取上传文件失败", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Failed to read uploaded file")
		return
	}
	if len(audio) == 0 {
		respondError(w, http.StatusBadRequest, "BadRequest", "Uploaded audio file is empty")
		return
	}

	mimeType := trackHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}

	track, err := h.ingestor.CreateInline(r.Context(), userID, ingest.InlineRequest{
		Title:        title,
		Artist:       r.FormValue("artist"),
		Album:        r.FormValue("album"),
		Duration:     parseFloat32(r.FormValue("duration")),
		CoverArtPath: r.FormValue("coverArtPath"),
		Audio:        audio,
		MimeType:     mimeType,
	})
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, track)
}

// cloudTrackRequest is the JSON body for registering a pre-uploaded track.
type cloudTrackRequest struct {
	Title        string  `json:"title"`
	Artist       string  `json:"artist"`
	Album        string  `json:"album"`
	Duration     float32 `json:"duration"`
	CoverArtPath string  `json:"coverArtPath"`
	ObjectKey    string  `json:"objectKey"`
}

func (c cloudTrackRequest) toIngest() ingest.CloudRequest {
	return ingest.CloudRequest{
		Title:        c.Title,
		Artist:       c.Artist,
		Album:        c.Album,
		Duration:     c.Duration,
		CoverArtPath: c.CoverArtPath,
		ObjectKey:    c.ObjectKey,
	}
}

// CreateCloudTrackHandler registers a track whose audio was already uploaded
// via a presigned URL.
func (h *APIHandler) CreateCloudTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req cloudTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(w, http.StatusBadRequest, "BadRequest", "Title is required")
		return
	}

	track, err := h.ingestor.CreateFromCloudKey(r.Context(), userID, req.toIngest())
	if err != nil {
		if err == ingest.ErrEmptyObjectKey {
			respondError(w, http.StatusBadRequest, "BadRequest", "objectKey must not be empty")
			return
		}
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, track)
}

// CreateCloudTracksBatchHandler registers several cloud tracks at once with
// per-item success or failure.
func (h *APIHandler) CreateCloudTracksBatchHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Tracks []cloudTrackRequest `json:"tracks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
		return
	}
	if len(req.Tracks) == 0 {
		respondError(w, http.StatusBadRequest, "BadRequest", "tracks must not be empty")
		return
	}

	reqs := make([]ingest.CloudRequest, len(req.Tracks))
	for i, t := range req.Tracks {
		reqs[i] = t.toIngest()
	}

	results := h.ingestor.CreateBatch(r.Context(), userID, reqs)
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// UpdateTrackHandler updates descriptive metadata of an owned track.
func (h *APIHandler) UpdateTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid track ID")
		return
	}

	track, err := h.trackRepo.GetTrackByIDAndUser(trackID, userID)
	if err != nil {
		logger.Error("查询曲目失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}
	if track == nil {
		respondError(w, http.StatusNotFound, "NotFound", "Track not found")
		return
	}

	var req struct {
		Title        *string  `json:"title"`
		Artist       *string  `json:"artist"`
		Album        *string  `json:"album"`
		Duration     *float32 `json:"duration"`
		CoverArtPath *string  `json:"coverArtPath"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
		return
	}

	// 未提供的字段保持原值
	if req.Title != nil {
		track.Title = *req.Title
	}
	if req.Artist != nil {
		track.Artist = *req.Artist
	}
	if req.Album != nil {
		track.Album = *req.Album
	}
	if req.Duration != nil {
		track.Duration = *req.Duration
	}
	if req.CoverArtPath != nil {
		track.CoverArtPath = *req.CoverArtPath
	}
	if strings.TrimSpace(track.Title) == "" {
		respondError(w, http.StatusBadRequest, "BadRequest", "Title must not be empty")
		return
	}

	if err := h.trackRepo.UpdateTrackMetadata(trackID, track.Title, track.Artist, track.Album, track.Duration, track.CoverArtPath); err != nil {
		logger.Error("更新曲目元数据失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}

	updated, err := h.trackRepo.GetTrackByID(trackID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// UpdateTrackAnalysisHandler records analysis metadata (tempo, key, energy),
// an independent lifecycle from transcription.
func (h *APIHandler) UpdateTrackAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid track ID")
		return
	}

	track, err := h.trackRepo.GetTrackByIDAndUser(trackID, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}
	if track == nil {
		respondError(w, http.StatusNotFound, "NotFound", "Track not found")
		return
	}

	var req struct {
		Tempo      float32 `json:"tempo"`
		MusicalKey string  `json:"musicalKey"`
		Energy     float32 `json:"energy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid request body")
		return
	}

	if err := h.trackRepo.UpdateAnalysis(trackID, req.Tempo, req.MusicalKey, req.Energy); err != nil {
		logger.Error("更新分析元数据失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}

	updated, err := h.trackRepo.GetTrackByID(trackID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeleteTrackHandler deletes an owned track row. Cloud objects are left in
// the bucket; the integrity reconciler has no claim on orphan objects.
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid track ID")
		return
	}

	track, err := h.trackRepo.GetTrackByIDAndUser(trackID, userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}
	if track == nil {
		respondError(w, http.StatusNotFound, "NotFound", "Track not found")
		return
	}

	if err := h.trackRepo.DeleteTrack(trackID); err != nil {
		logger.Error("删除曲目失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}

	logger.Info("曲目已删除",
		logger.Int64("trackId", trackID),
		logger.Int64("userId", userID),
		logger.String("title", track.Title))
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": trackID})
}
