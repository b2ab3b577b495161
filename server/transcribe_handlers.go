package server

import (
	"encoding/json"
	"net/http"

	"VoxFM/cache"
	"VoxFM/logger"
	"VoxFM/model"
)

// TranscribeTrackHandler triggers transcription of one owned track. Returns
// 202 immediately; progress is observed by polling the track's status.
func (h *APIHandler) TranscribeTrackHandler(w http.ResponseWriter, r *http.Request) {
	track, _, ok := h.ownedTrack(w, r)
	if !ok {
		return
	}

	if !track.HasAudio() {
		respondError(w, http.StatusBadRequest, "BadRequest", "Track has no audio to transcribe")
		return
	}
	if !h.pipeline.Available() {
		respondError(w, http.StatusServiceUnavailable, "TranscriptionUnavailable", "No speech-to-text capability configured")
		return
	}
	if track.TranscriptionStatus == model.TranscriptionProcessing {
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"trackId":    track.ID,
			"dispatched": false,
			"status":     model.TranscriptionProcessing,
		})
		return
	}

	h.pipeline.Dispatch(track.ID)
	// 状态流转在后台goroutine里发生，这里只承诺已派发，轮询读真实状态
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"trackId":    track.ID,
		"dispatched": true,
	})
}

// TranscribeAllHandler queues transcription of every eligible track and
// returns the queued count without waiting.
func (h *APIHandler) TranscribeAllHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if !h.pipeline.Available() {
		respondError(w, http.StatusServiceUnavailable, "TranscriptionUnavailable", "No speech-to-text capability configured")
		return
	}

	queued, err := h.pipeline.TranscribeAll(userID)
	if err != nil {
		logger.Error("批量转写入队失败",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

// GetTranscriptHandler returns the transcript with segment/word timings,
// reading through the redis cache before hitting the database.
func (h *APIHandler) GetTranscriptHandler(w http.ResponseWriter, r *http.Request) {
	track, _, ok := h.ownedTrack(w, r)
	if !ok {
		return
	}

	// 缓存优先，缓存故障降级到数据库
	if cached, err := cache.GetTranscript(r.Context(), track.ID); err == nil && cached != nil {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	status, text, metaJSON, err := h.trackRepo.GetTranscriptRow(track.ID)
	if err != nil {
		logger.Error("查询转写结果失败",
			logger.Int64("trackId", track.ID),
			logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}

	transcript := &model.Transcript{
		TrackID: track.ID,
		Status:  status,
		Text:    text,
	}
	if metaJSON != "" {
		var meta struct {
			Language string                    `json:"language"`
			Segments []model.TranscriptSegment `json:"segments"`
			Words    []model.TranscriptWord    `json:"words"`
		}
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			logger.Warn("解析转写元数据失败",
				logger.Int64("trackId", track.ID),
				logger.ErrorField(err))
		} else {
			transcript.Language = meta.Language
			transcript.Segments = meta.Segments
			transcript.Words = meta.Words
		}
	}

	if status == model.TranscriptionCompleted {
		if err := cache.SetTranscript(r.Context(), transcript); err != nil {
			logger.Warn("回填转写缓存失败",
				logger.Int64("trackId", track.ID),
				logger.ErrorField(err))
		}
	}

	respondJSON(w, http.StatusOK, transcript)
}
