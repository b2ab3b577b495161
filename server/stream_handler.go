package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"VoxFM/logger"
	"VoxFM/model"
	"VoxFM/storage"
)

// parseRangeHeader parses a single-range `bytes=` header against the given
// total size. Returns nil when no Range header is present.
// 只支持单区间，多区间和 suffix 之外的花样直接拒绝。
func parseRangeHeader(header string, size int64) (*storage.ByteRange, error) {
	if header == "" {
		return nil, nil
	}
	if !strings.HasPrefix(header, "bytes=") {
		return nil, fmt.Errorf("unsupported range unit")
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(spec, ",") {
		return nil, fmt.Errorf("multiple ranges not supported")
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed range")
	}

	// suffix range: bytes=-N，最后N个字节
	if parts[0] == "" {
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("malformed suffix range")
		}
		start := size - n
		if start < 0 {
			start = 0
		}
		return &storage.ByteRange{Start: start, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("malformed range start")
	}

	end := size - 1
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("malformed range end")
		}
		if end > size-1 {
			end = size - 1
		}
	}

	if start >= size {
		return nil, fmt.Errorf("range start beyond object size")
	}
	return &storage.ByteRange{Start: start, End: end}, nil
}

// ownedTrack loads the track and enforces ownership, writing the error
// response itself. Absent and not-owned are indistinguishable to the caller.
func (h *APIHandler) ownedTrack(w http.ResponseWriter, r *http.Request) (*model.Track, int64, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, 0, false
	}
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "BadRequest", "Invalid track ID")
		return nil, 0, false
	}

	track, err := h.trackRepo.GetTrackByIDAndUser(trackID, userID)
	if err != nil {
		logger.Error("查询曲目失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, "Internal", "Internal server error")
		return nil, 0, false
	}
	if track == nil {
		respondError(w, http.StatusNotFound, "NotFound", "Track not found")
		return nil, 0, false
	}
	return track, userID, true
}

// StreamHandler serves track audio. Inline tracks are served directly with
// single-range support; cloud tracks redirect to a signed URL so the object
// store carries the bytes.
func (h *APIHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	track, _, ok := h.ownedTrack(w, r)
	if !ok {
		return
	}

	if track.HasCloudAudio() {
		url, err := h.store.SignedReadURL(r.Context(), storage.CloudPointer(track.ObjectKey), h.cfg.StreamURLTTL)
		if err == nil {
			http.Redirect(w, r, url, http.StatusFound)
			return
		}
		if !track.HasInlineAudio {
			respondStorageError(w, err)
			return
		}
		// 迁移遗留的内联副本兜底播放
		logger.Warn("签名URL生成失败，回退内联音频",
			logger.Int64("trackId", track.ID),
			logger.ErrorField(err))
	}

	if !track.HasInlineAudio {
		respondError(w, http.StatusNotFound, "NotFound", "Track has no audio")
		return
	}

	data, mimeType, err := h.store.GetBytes(r.Context(), storage.InlinePointer(track.ID))
	if err != nil {
		respondStorageError(w, err)
		return
	}
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}

	size := int64(len(data))
	rng, err := parseRangeHeader(r.Header.Get("Range"), size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		respondError(w, http.StatusRequestedRangeNotSatisfiable, "BadRange", "Requested range not satisfiable")
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Accept-Ranges", "bytes")

	if rng == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			if _, err := w.Write(data); err != nil {
				logger.Debug("写入音频响应中断", logger.Int64("trackId", track.ID), logger.ErrorField(err))
			}
		}
		return
	}

	slice := data[rng.Start : rng.End+1]
	w.Header().Set("Content-Length", strconv.Itoa(len(slice)))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		if _, err := w.Write(slice); err != nil {
			logger.Debug("写入音频响应中断", logger.Int64("trackId", track.ID), logger.ErrorField(err))
		}
	}
}

// StreamProxyHandler pipes the cloud object through the server without
// buffering the whole payload, forwarding range semantics.
func (h *APIHandler) StreamProxyHandler(w http.ResponseWriter, r *http.Request) {
	track, _, ok := h.ownedTrack(w, r)
	if !ok {
		return
	}

	if !track.HasCloudAudio() {
		// 内联曲目没有代理的意义，交给常规流接口
		h.StreamHandler(w, r)
		return
	}

	var rng *storage.ByteRange
	if header := r.Header.Get("Range"); header != "" {
		// 代理路径不预取对象大小，起止原样透传，由存储层按真实大小截断
		parsed, err := parseProxyRange(header)
		if err != nil {
			respondError(w, http.StatusRequestedRangeNotSatisfiable, "BadRange", "Requested range not satisfiable")
			return
		}
		rng = parsed
	}

	reader, info, err := h.store.GetStream(r.Context(), storage.CloudPointer(track.ObjectKey), rng)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	defer reader.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")

	if info.Range != nil {
		length := info.Range.End - info.Range.Start + 1
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", info.Range.Start, info.Range.End, info.Size))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		w.WriteHeader(http.StatusOK)
	}

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, reader); err != nil {
		// 播放器拖进度条时中断是常态
		logger.Debug("代理流中断",
			logger.Int64("trackId", track.ID),
			logger.ErrorField(err))
	}
}

// parseProxyRange parses a range header without knowing the object size;
// the facade clamps the end against the real size.
func parseProxyRange(header string) (*storage.ByteRange, error) {
	if !strings.HasPrefix(header, "bytes=") {
		return nil, fmt.Errorf("unsupported range unit")
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(spec, ",") || strings.HasPrefix(spec, "-") {
		return nil, fmt.Errorf("unsupported range form")
	}
	parts := strings.SplitN(spec, "-", 2)
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("malformed range start")
	}
	end := int64(-1)
	if len(parts) == 2 && parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil || end < start {
			return nil, fmt.Errorf("malformed range end")
		}
	}
	if end < 0 {
		// 开区间用一个极大的End，facade会按真实大小截断
		end = 1<<62 - 1
	}
	return &storage.ByteRange{Start: start, End: end}, nil
}

// StreamURLHandler returns a signed playback URL as JSON for clients that
// talk to the object store directly.
func (h *APIHandler) StreamURLHandler(w http.ResponseWriter, r *http.Request) {
	track, _, ok := h.ownedTrack(w, r)
	if !ok {
		return
	}

	if !track.HasCloudAudio() {
		respondError(w, http.StatusNotFound, "NotFound", "Track has no cloud audio")
		return
	}

	url, err := h.store.SignedReadURL(r.Context(), storage.CloudPointer(track.ObjectKey), h.cfg.StreamURLTTL)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}
