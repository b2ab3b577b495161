package transcribe

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"VoxFM/cache"
	"VoxFM/logger"
	"VoxFM/model"
	"VoxFM/repository"
	"VoxFM/storage"
)

// transcriptMeta is the JSON blob persisted alongside the transcript text.
type transcriptMeta struct {
	Language string                    `json:"language,omitempty"`
	Segments []model.TranscriptSegment `json:"segments,omitempty"`
	Words    []model.TranscriptWord    `json:"words,omitempty"`
}

// Pipeline runs transcriptions in the background and keeps each track's
// state machine honest: pending|failed -> processing -> completed|failed.
type Pipeline struct {
	tracks   repository.TrackRepository
	store    storage.Facade
	provider Provider
	pacing   time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	inflight map[int64]bool // trackID -> 正在转写
}

// NewPipeline wires the transcription pipeline. provider may be nil, in
// which case every dispatch settles the track to failed.
func NewPipeline(tracks repository.TrackRepository, store storage.Facade, provider Provider, pacing, timeout time.Duration) *Pipeline {
	return &Pipeline{
		tracks:   tracks,
		store:    store,
		provider: provider,
		pacing:   pacing,
		timeout:  timeout,
		inflight: make(map[int64]bool),
	}
}

// Available reports whether a transcription provider is configured.
func (p *Pipeline) Available() bool {
	return p.provider != nil
}

// Dispatch starts transcription for the track in the background and returns
// immediately. Callers never wait on or learn the outcome; state lives on
// the track row.
func (p *Pipeline) Dispatch(trackID int64) {
	go p.run(trackID)
}

// run executes one transcription, serialized per track via the inflight map.
func (p *Pipeline) run(trackID int64) {
	p.mu.Lock()
	if p.inflight[trackID] {
		p.mu.Unlock()
		logger.Debug("转写已在进行中，忽略重复派发", logger.Int64("trackId", trackID))
		return
	}
	p.inflight[trackID] = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.inflight, trackID)
		p.mu.Unlock()
	}()

	track, err := p.tracks.GetTrackByID(trackID)
	if err != nil || track == nil {
		logger.Warn("转写派发时曲目不存在",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		return
	}
	if track.TranscriptionStatus == model.TranscriptionProcessing {
		return
	}
	if !track.HasAudio() {
		logger.Warn("曲目无音频，跳过转写", logger.Int64("trackId", trackID))
		return
	}

	if err := p.tracks.UpdateTranscriptionStatus(trackID, model.TranscriptionProcessing); err != nil {
		logger.Error("更新转写状态失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		return
	}

	// 重新转写前先废弃旧缓存，避免处理期间读到过期结果
	if err := cache.DeleteTranscript(context.Background(), trackID); err != nil {
		logger.Warn("清理旧转写缓存失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
	}

	if p.provider == nil {
		p.settleFailed(trackID, ErrTranscriptionUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	// 优先读云对象，失败则回退内联
	data, mimeType, err := p.fetchAudio(ctx, track)
	if err != nil {
		p.settleFailed(trackID, err)
		return
	}

	start := time.Now()
	result, err := p.provider.Transcribe(ctx, data, mimeType)
	if err != nil {
		p.settleFailed(trackID, err)
		return
	}

	meta := transcriptMeta{Language: result.Language, Segments: result.Segments, Words: result.Words}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		p.settleFailed(trackID, err)
		return
	}

	if err := p.tracks.SetTranscriptionResult(trackID, result.Text, string(metaJSON)); err != nil {
		logger.Error("持久化转写结果失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		p.settleFailed(trackID, err)
		return
	}

	transcript := &model.Transcript{
		TrackID:  trackID,
		Status:   model.TranscriptionCompleted,
		Text:     result.Text,
		Language: result.Language,
		Segments: result.Segments,
		Words:    result.Words,
	}
	if err := cache.SetTranscript(context.Background(), transcript); err != nil {
		logger.Warn("转写结果写入缓存失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
	}

	logger.Info("转写完成",
		logger.Int64("trackId", trackID),
		logger.Int("textLength", len(result.Text)),
		logger.Int("segments", len(result.Segments)),
		logger.Duration("elapsed", time.Since(start)))
}

// fetchAudio buffers the track's audio, preferring the cloud object and
// falling back to the inline column when the cloud read fails.
func (p *Pipeline) fetchAudio(ctx context.Context, track *model.Track) ([]byte, string, error) {
	if track.HasCloudAudio() {
		data, mimeType, err := p.store.GetBytes(ctx, storage.CloudPointer(track.ObjectKey))
		if err == nil {
			return data, mimeType, nil
		}
		if !track.HasInlineAudio {
			return nil, "", err
		}
		logger.Warn("云对象读取失败，回退内联音频",
			logger.Int64("trackId", track.ID),
			logger.String("objectKey", track.ObjectKey),
			logger.ErrorField(err))
	}
	return p.store.GetBytes(ctx, storage.InlinePointer(track.ID))
}

// settleFailed records a failed transcription. 失败不向上冒泡，状态即结果。
func (p *Pipeline) settleFailed(trackID int64, cause error) {
	logger.Warn("转写失败",
		logger.Int64("trackId", trackID),
		logger.ErrorField(cause))
	if err := p.tracks.UpdateTranscriptionStatus(trackID, model.TranscriptionFailed); err != nil {
		logger.Error("记录转写失败状态时出错",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
	}
	if err := cache.DeleteTranscript(context.Background(), trackID); err != nil {
		logger.Warn("清理转写缓存失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
	}
}

// TranscribeAll queues every eligible track of the user and returns the
// queued count immediately. Processing happens in a single background
// goroutine, one track at a time with pacing between items, so a large
// library cannot stampede the STT service.
func (p *Pipeline) TranscribeAll(userID int64) (int, error) {
	tracks, err := p.tracks.ListTracksNeedingTranscription(userID)
	if err != nil {
		return 0, err
	}

	eligible := make([]int64, 0, len(tracks))
	for _, t := range tracks {
		if t.HasAudio() && t.TranscriptionStatus != model.TranscriptionProcessing {
			eligible = append(eligible, t.ID)
		}
	}
	if len(eligible) == 0 {
		return 0, nil
	}

	go func() {
		for i, id := range eligible {
			if i > 0 {
				time.Sleep(p.pacing)
			}
			// 串行执行，单条失败不影响后续
			p.run(id)
		}
		logger.Info("批量转写完成",
			logger.Int64("userId", userID),
			logger.Int("total", len(eligible)))
	}()

	logger.Info("批量转写已入队",
		logger.Int64("userId", userID),
		logger.Int("queued", len(eligible)))
	return len(eligible), nil
}
