package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"VoxFM/config"
	"VoxFM/core/upload"
	"VoxFM/model"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 补充 Manager 依赖的仓库与存储方法，类型定义见 stream_handler_test.go

func (f *fakeTrackRepo) CreateTrack(track *model.Track) (int64, error) {
	id := int64(len(f.tracks) + 1)
	cp := *track
	cp.ID = id
	f.tracks[id] = &cp
	return id, nil
}

func (f *fakeTrackRepo) GetTrackByID(id int64) (*model.Track, error) {
	t, ok := f.tracks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeFacade) PutInline(ctx context.Context, trackID int64, data []byte, mimeType string) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.inline[trackID] = cp
	f.mimes[trackID] = mimeType
	return nil
}

func newUploadTestHandler() (*APIHandler, *fakeTrackRepo, *fakeFacade) {
	repo := &fakeTrackRepo{tracks: make(map[int64]*model.Track)}
	facade := &fakeFacade{inline: make(map[int64][]byte), mimes: make(map[int64]string)}
	cfg := &config.Config{MaxChunkBytes: 16, SessionTTL: time.Hour}
	uploads := upload.NewManager(repo, facade, nil, cfg.SessionTTL, cfg.MaxChunkBytes)
	h := NewAPIHandler(repo, nil, facade, nil, uploads, nil, nil, cfg)
	return h, repo, facade
}

func authed(req *http.Request) *http.Request {
	ctx := context.WithValue(req.Context(), userIDContextKey, int64(1))
	return req.WithContext(ctx)
}

func initChunkedSession(t *testing.T, h *APIHandler, totalChunks int) (sessionID string, trackID int64) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"title":       "Test Song",
		"totalChunks": totalChunks,
		"mimeType":    "audio/mpeg",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.InitChunkedUploadHandler(rec, authed(httptest.NewRequest(http.MethodPost, "/api/uploads/chunked", bytes.NewReader(body))))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		SessionID string `json:"sessionId"`
		TrackID   int64  `json:"trackId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID, resp.TrackID
}

func putChunk(h *APIHandler, sessionID string, index int, payload []byte) *httptest.ResponseRecorder {
	req := authed(httptest.NewRequest(http.MethodPut,
		"/api/uploads/chunked/"+sessionID+"/"+strconv.Itoa(index),
		bytes.NewReader(payload)))
	req = mux.SetURLVars(req, map[string]string{"sessionId": sessionID, "index": strconv.Itoa(index)})
	rec := httptest.NewRecorder()
	h.PutChunkHandler(rec, req)
	return rec
}

func finalizeSession(h *APIHandler, sessionID string) *httptest.ResponseRecorder {
	req := authed(httptest.NewRequest(http.MethodPost,
		"/api/uploads/chunked/"+sessionID+"/finalize", nil))
	req = mux.SetURLVars(req, map[string]string{"sessionId": sessionID})
	rec := httptest.NewRecorder()
	h.FinalizeChunkedUploadHandler(rec, req)
	return rec
}

func TestChunkedUploadHTTPFlow(t *testing.T) {
	h, repo, facade := newUploadTestHandler()
	sessionID, trackID := initChunkedSession(t, h, 3)

	// 先只传 1 和 2，finalize 应报 409 并指出缺 0
	require.Equal(t, http.StatusOK, putChunk(h, sessionID, 1, []byte("B")).Code)
	require.Equal(t, http.StatusOK, putChunk(h, sessionID, 2, []byte("C")).Code)

	rec := finalizeSession(h, sessionID)
	require.Equal(t, http.StatusConflict, rec.Code)

	var conflict struct {
		Error        string `json:"error"`
		MissingIndex int    `json:"missingIndex"`
		Received     int    `json:"received"`
		Total        int    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflict))
	assert.Equal(t, "IncompleteUpload", conflict.Error)
	assert.Equal(t, 0, conflict.MissingIndex)
	assert.Equal(t, 2, conflict.Received)
	assert.Equal(t, 3, conflict.Total)

	// 补齐后成功，音频按索引序拼接
	require.Equal(t, http.StatusOK, putChunk(h, sessionID, 0, []byte("A")).Code)
	rec = finalizeSession(h, sessionID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []byte("ABC"), facade.inline[trackID])

	track, err := repo.GetTrackByID(trackID)
	require.NoError(t, err)
	require.NotNil(t, track)
	assert.Equal(t, "Test Song", track.Title)

	// 会话已删除
	assert.Equal(t, http.StatusNotFound, finalizeSession(h, sessionID).Code)
}

func TestPutChunkRejectsOversizedBody(t *testing.T) {
	h, _, _ := newUploadTestHandler()
	sessionID, _ := initChunkedSession(t, h, 1)

	// MaxChunkBytes 是16，发17字节
	rec := putChunk(h, sessionID, 0, bytes.Repeat([]byte("z"), 17))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPutChunkUnknownSession(t *testing.T) {
	h, _, _ := newUploadTestHandler()

	rec := putChunk(h, "nope", 0, []byte("x"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFinalizeUnknownSession(t *testing.T) {
	h, _, _ := newUploadTestHandler()

	rec := finalizeSession(h, "nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitChunkedUploadValidation(t *testing.T) {
	h, _, _ := newUploadTestHandler()

	for name, body := range map[string]string{
		"no title":    `{"totalChunks": 3}`,
		"zero chunks": `{"title": "t", "totalChunks": 0}`,
		"bad json":    `{`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.InitChunkedUploadHandler(rec, authed(httptest.NewRequest(http.MethodPost, "/api/uploads/chunked", bytes.NewReader([]byte(body)))))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
