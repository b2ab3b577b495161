package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"VoxFM/logger"
	"VoxFM/model"
	"VoxFM/repository"
	"VoxFM/storage"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound 会话不存在或已过期被清理
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrSessionForbidden 调用者不是会话所有者
	ErrSessionForbidden = errors.New("upload session belongs to another user")
)

// IncompleteUploadError is returned by Finalize when chunks are missing;
// it names the first absent index so the client knows what to resend.
type IncompleteUploadError struct {
	MissingIndex int
	Received     int
	Total        int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("upload incomplete: missing chunk %d (%d/%d received)", e.MissingIndex, e.Received, e.Total)
}

// TrackMeta carries the descriptive fields supplied at session init.
type TrackMeta struct {
	Title        string
	Artist       string
	Album        string
	Duration     float32
	CoverArtPath string
}

// session is the ephemeral state of one chunked upload.
// 进程内存态，进程重启即丢失——客户端重新上传即可。
type session struct {
	id        string
	ownerID   int64
	trackID   int64
	total     int
	mimeType  string
	chunks    map[int][]byte
	createdAt time.Time
}

func (s *session) complete() bool {
	if len(s.chunks) != s.total {
		return false
	}
	for i := 0; i < s.total; i++ {
		if _, ok := s.chunks[i]; !ok {
			return false
		}
	}
	return true
}

func (s *session) firstMissing() int {
	for i := 0; i < s.total; i++ {
		if _, ok := s.chunks[i]; !ok {
			return i
		}
	}
	return -1
}

// Manager owns all in-flight chunked upload sessions for this process.
//
// 横向扩展时同一会话的分片必须路由到同一实例，这是内存态设计的
// 明确约束，不是bug。
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	tracks   repository.TrackRepository
	store    storage.Facade
	dispatch func(trackID int64) // 转写派发，可为nil

	ttl      time.Duration
	maxChunk int64
}

// NewManager creates a session manager. dispatch may be nil when no
// transcription capability is configured.
func NewManager(tracks repository.TrackRepository, store storage.Facade, dispatch func(trackID int64), ttl time.Duration, maxChunk int64) *Manager {
	return &Manager{
		sessions: make(map[string]*session),
		tracks:   tracks,
		store:    store,
		dispatch: dispatch,
		ttl:      ttl,
		maxChunk: maxChunk,
	}
}

// Init registers a new chunked upload and pre-creates the Track row so the
// track appears in listings immediately, storage pointer unset.
func (m *Manager) Init(ownerID int64, totalChunks int, declaredSize int64, mimeType string, meta TrackMeta) (string, int64, error) {
	if totalChunks <= 0 {
		return "", 0, fmt.Errorf("totalChunks must be positive, got %d", totalChunks)
	}

	track := &model.Track{
		UserID:              ownerID,
		Title:               meta.Title,
		Artist:              meta.Artist,
		Album:               meta.Album,
		Duration:            meta.Duration,
		CoverArtPath:        meta.CoverArtPath,
		TranscriptionStatus: model.TranscriptionPending,
	}
	trackID, err := m.tracks.CreateTrack(track)
	if err != nil {
		return "", 0, fmt.Errorf("failed to pre-create track for chunked upload: %w", err)
	}

	s := &session{
		id:        uuid.NewString(),
		ownerID:   ownerID,
		trackID:   trackID,
		total:     totalChunks,
		mimeType:  mimeType,
		chunks:    make(map[int][]byte, totalChunks),
		createdAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	logger.Info("分片上传会话已创建",
		logger.String("sessionId", s.id),
		logger.Int64("userId", ownerID),
		logger.Int64("trackId", trackID),
		logger.Int("totalChunks", totalChunks),
		logger.Int64("declaredSize", declaredSize))
	return s.id, trackID, nil
}

// PutChunk stores or overwrites the payload at index. Re-submitting the same
// index is idempotent, so clients can retry without duplication.
func (m *Manager) PutChunk(sessionID string, ownerID int64, index int, payload []byte) (received int, complete bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 先校验会话归属，再校验载荷，避免向无关调用者泄露大小限制
	s, ok := m.sessions[sessionID]
	if !ok {
		return 0, false, ErrSessionNotFound
	}
	if s.ownerID != ownerID {
		return 0, false, ErrSessionForbidden
	}
	if int64(len(payload)) > m.maxChunk {
		return len(s.chunks), false, fmt.Errorf("%w: chunk of %d bytes exceeds ceiling %d", storage.ErrPayloadTooLarge, len(payload), m.maxChunk)
	}
	if index < 0 || index >= s.total {
		return len(s.chunks), false, fmt.Errorf("chunk index %d out of range [0,%d)", index, s.total)
	}

	s.chunks[index] = payload
	return len(s.chunks), s.complete(), nil
}

// Finalize assembles the chunks in index order, writes the payload via the
// storage facade's inline path, deletes the session, and dispatches
// transcription.
func (m *Manager) Finalize(ctx context.Context, sessionID string, ownerID int64) (*model.Track, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if s.ownerID != ownerID {
		m.mu.Unlock()
		return nil, ErrSessionForbidden
	}
	if !s.complete() {
		missing := s.firstMissing()
		received := len(s.chunks)
		m.mu.Unlock()
		return nil, &IncompleteUploadError{MissingIndex: missing, Received: received, Total: s.total}
	}

	// 按索引顺序拼接；到达顺序无关紧要
	var buf bytes.Buffer
	for i := 0; i < s.total; i++ {
		buf.Write(s.chunks[i])
	}
	trackID := s.trackID
	mimeType := s.mimeType
	m.mu.Unlock()

	if err := m.store.PutInline(ctx, trackID, buf.Bytes(), mimeType); err != nil {
		// 写入失败时保留会话，客户端可直接重试finalize；过期交给清理器
		return nil, fmt.Errorf("failed to store assembled upload for track %d: %w", trackID, err)
	}

	// 只有写入成功才消费会话
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	logger.Info("分片上传完成",
		logger.String("sessionId", sessionID),
		logger.Int64("trackId", trackID),
		logger.Int("assembledSize", buf.Len()))

	if m.dispatch != nil {
		m.dispatch(trackID)
	}

	track, err := m.tracks.GetTrackByID(trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload track %d after finalize: %w", trackID, err)
	}
	return track, nil
}

// StartSweeper reaps expired sessions on a fixed period until ctx is done.
// 清理可能删掉正在上传的会话，这是接受的竞态：客户端重新开始即可。
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Sweep removes every session older than the TTL, complete or not.
func (m *Manager) Sweep() int {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.createdAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
			logger.Info("过期上传会话已清理",
				logger.String("sessionId", id),
				logger.Int64("trackId", s.trackID),
				logger.Int("chunksReceived", len(s.chunks)),
				logger.Int("totalChunks", s.total))
		}
	}
	return removed
}

// SessionCount reports the number of in-flight sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
