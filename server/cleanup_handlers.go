package server

import (
	"net/http"

	"VoxFM/logger"
)

// CleanupNoAudioHandler deletes the caller's tracks that carry neither an
// inline payload nor a cloud key.
func (h *APIHandler) CleanupNoAudioHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	deleted, err := h.trackRepo.DeleteTracksWithoutAudio(userID)
	if err != nil {
		logger.Error("清理无音频曲目失败",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}

	logger.Info("无音频曲目清理完成",
		logger.Int64("userId", userID),
		logger.Int64("deleted", deleted))
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// VerifyObjectsHandler runs the integrity reconciler over the caller's
// cloud-pointer tracks.
func (h *APIHandler) VerifyObjectsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	report, err := h.reconciler.VerifyCloudTracks(r.Context(), userID)
	if err != nil {
		logger.Error("对象完整性校验失败",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, report)
}
