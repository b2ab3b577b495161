package ingest

import (
	"context"
	"errors"
	"fmt"

	"VoxFM/logger"
	"VoxFM/model"
	"VoxFM/repository"
	"VoxFM/storage"
)

// ErrEmptyObjectKey 云注册必须带非空对象键
var ErrEmptyObjectKey = errors.New("object key must not be empty")

// InlineRequest describes a track created from an uploaded payload.
type InlineRequest struct {
	Title        string
	Artist       string
	Album        string
	Duration     float32
	CoverArtPath string
	Audio        []byte
	MimeType     string
}

// CloudRequest describes a track whose audio was already uploaded to the
// bucket via a presigned URL.
type CloudRequest struct {
	Title        string
	Artist       string
	Album        string
	Duration     float32
	CoverArtPath string
	ObjectKey    string
}

// BatchItemResult reports the outcome of one item of a batch registration.
type BatchItemResult struct {
	Track *model.Track `json:"track,omitempty"`
	Error string       `json:"error,omitempty"`
}

// Ingestor turns upload payloads and cloud keys into durable Track rows with
// exactly one storage pointer set, then hands the track to transcription.
type Ingestor struct {
	tracks   repository.TrackRepository
	store    storage.Facade
	dispatch func(trackID int64) // 可为nil
}

// NewIngestor wires the orchestrator. dispatch may be nil when transcription
// is not configured.
func NewIngestor(tracks repository.TrackRepository, store storage.Facade, dispatch func(trackID int64)) *Ingestor {
	return &Ingestor{tracks: tracks, store: store, dispatch: dispatch}
}

// CreateInline persists metadata plus the audio payload in the inline column
// and dispatches transcription once the row is durable.
func (g *Ingestor) CreateInline(ctx context.Context, ownerID int64, req InlineRequest) (*model.Track, error) {
	track := &model.Track{
		UserID:              ownerID,
		Title:               req.Title,
		Artist:              req.Artist,
		Album:               req.Album,
		Duration:            req.Duration,
		CoverArtPath:        req.CoverArtPath,
		TranscriptionStatus: model.TranscriptionPending,
	}
	trackID, err := g.tracks.CreateTrack(track)
	if err != nil {
		return nil, fmt.Errorf("failed to create track: %w", err)
	}

	if err := g.store.PutInline(ctx, trackID, req.Audio, req.MimeType); err != nil {
		// 音频写入失败时回滚元数据行，避免产生无音频的孤儿记录
		if delErr := g.tracks.DeleteTrack(trackID); delErr != nil {
			logger.Error("内联写入失败后回滚曲目失败",
				logger.Int64("trackId", trackID),
				logger.ErrorField(delErr))
		}
		return nil, err
	}

	logger.Info("曲目入库完成（内联）",
		logger.Int64("trackId", trackID),
		logger.Int64("userId", ownerID),
		logger.String("title", req.Title),
		logger.Int("audioSize", len(req.Audio)))

	if g.dispatch != nil {
		g.dispatch(trackID)
	}
	return g.tracks.GetTrackByID(trackID)
}

// CreateFromCloudKey registers a track whose audio already lives in the
// bucket. The inline column stays empty; the object key is the sole pointer.
func (g *Ingestor) CreateFromCloudKey(ctx context.Context, ownerID int64, req CloudRequest) (*model.Track, error) {
	if req.ObjectKey == "" {
		return nil, ErrEmptyObjectKey
	}

	track := &model.Track{
		UserID:              ownerID,
		Title:               req.Title,
		Artist:              req.Artist,
		Album:               req.Album,
		Duration:            req.Duration,
		CoverArtPath:        req.CoverArtPath,
		ObjectKey:           req.ObjectKey,
		TranscriptionStatus: model.TranscriptionPending,
	}
	trackID, err := g.tracks.CreateTrack(track)
	if err != nil {
		return nil, fmt.Errorf("failed to register cloud track: %w", err)
	}

	logger.Info("曲目入库完成（云端）",
		logger.Int64("trackId", trackID),
		logger.Int64("userId", ownerID),
		logger.String("title", req.Title),
		logger.String("objectKey", req.ObjectKey))

	if g.dispatch != nil {
		g.dispatch(trackID)
	}
	return g.tracks.GetTrackByID(trackID)
}

// CreateBatch registers several cloud tracks with per-item isolation: one bad
// item produces an error slot, the rest still succeed.
func (g *Ingestor) CreateBatch(ctx context.Context, ownerID int64, reqs []CloudRequest) []BatchItemResult {
	results := make([]BatchItemResult, len(reqs))
	for i, req := range reqs {
		track, err := g.CreateFromCloudKey(ctx, ownerID, req)
		if err != nil {
			results[i] = BatchItemResult{Error: err.Error()}
			logger.Warn("批量注册条目失败",
				logger.Int("index", i),
				logger.String("title", req.Title),
				logger.ErrorField(err))
			continue
		}
		results[i] = BatchItemResult{Track: track}
	}
	return results
}
