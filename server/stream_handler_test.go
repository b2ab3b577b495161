package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"VoxFM/config"
	"VoxFM/core/auth"
	"VoxFM/model"
	"VoxFM/repository"
	"VoxFM/storage"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrackRepo struct {
	repository.TrackRepository
	tracks map[int64]*model.Track
}

func (f *fakeTrackRepo) GetTrackByIDAndUser(id, userID int64) (*model.Track, error) {
	t, ok := f.tracks[id]
	if !ok || t.UserID != userID {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

type fakeFacade struct {
	storage.Facade
	inline  map[int64][]byte
	mimes   map[int64]string
	signErr error
}

func (f *fakeFacade) GetBytes(ctx context.Context, ptr storage.Pointer) ([]byte, string, error) {
	data, ok := f.inline[ptr.TrackID]
	if !ok {
		return nil, "", storage.ErrObjectUnreadable
	}
	return data, f.mimes[ptr.TrackID], nil
}

func (f *fakeFacade) SignedReadURL(ctx context.Context, ptr storage.Pointer, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://minio.example/" + ptr.ObjectKey + "?sig=abc", nil
}

func newStreamTestHandler(tracks map[int64]*model.Track, inline map[int64][]byte) *APIHandler {
	mimes := make(map[int64]string, len(inline))
	for id := range inline {
		mimes[id] = "audio/mpeg"
	}
	return NewAPIHandler(
		&fakeTrackRepo{tracks: tracks},
		nil,
		&fakeFacade{inline: inline, mimes: mimes},
		nil, nil, nil, nil,
		&config.Config{StreamURLTTL: 15 * time.Minute},
	)
}

// streamRequest 构造带登录态与路径变量的请求
func streamRequest(t *testing.T, trackID string, rangeHeader string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/stream/"+trackID, nil)
	req = mux.SetURLVars(req, map[string]string{"id": trackID})
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	ctx := context.WithValue(req.Context(), userIDContextKey, int64(1))
	return req.WithContext(ctx)
}

func TestStreamInlineFull(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 1000)
	h := newStreamTestHandler(
		map[int64]*model.Track{1: {ID: 1, UserID: 1, HasInlineAudio: true}},
		map[int64][]byte{1: payload},
	)

	rec := httptest.NewRecorder()
	h.StreamHandler(rec, streamRequest(t, "1", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "1000", rec.Header().Get("Content-Length"))
	assert.Equal(t, payload, rec.Body.Bytes())
}

func TestStreamInlineRange(t *testing.T) {
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	h := newStreamTestHandler(
		map[int64]*model.Track{1: {ID: 1, UserID: 1, HasInlineAudio: true}},
		map[int64][]byte{1: payload},
	)

	rec := httptest.NewRecorder()
	h.StreamHandler(rec, streamRequest(t, "1", "bytes=100-199"))

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 100-199/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "100", rec.Header().Get("Content-Length"))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Len(t, body, 100)
	assert.Equal(t, payload[100:200], body)
}

func TestStreamInlineOpenEndedRange(t *testing.T) {
	payload := []byte("0123456789")
	h := newStreamTestHandler(
		map[int64]*model.Track{1: {ID: 1, UserID: 1, HasInlineAudio: true}},
		map[int64][]byte{1: payload},
	)

	rec := httptest.NewRecorder()
	h.StreamHandler(rec, streamRequest(t, "1", "bytes=7-"))

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 7-9/10", rec.Header().Get("Content-Range"))
	assert.Equal(t, []byte("789"), rec.Body.Bytes())
}

func TestStreamInlineUnsatisfiableRange(t *testing.T) {
	h := newStreamTestHandler(
		map[int64]*model.Track{1: {ID: 1, UserID: 1, HasInlineAudio: true}},
		map[int64][]byte{1: []byte("0123456789")},
	)

	rec := httptest.NewRecorder()
	h.StreamHandler(rec, streamRequest(t, "1", "bytes=100-200"))

	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "bytes */10", rec.Header().Get("Content-Range"))
}

func TestStreamCloudRedirectsToSignedURL(t *testing.T) {
	h := newStreamTestHandler(
		map[int64]*model.Track{1: {ID: 1, UserID: 1, ObjectKey: "audio/1/a.mp3"}},
		nil,
	)

	rec := httptest.NewRecorder()
	h.StreamHandler(rec, streamRequest(t, "1", ""))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "audio/1/a.mp3")
}

func TestStreamSignedURLFailureFallsBackToInline(t *testing.T) {
	// 迁移遗留行：云端键与内联副本并存
	payload := []byte("fallback-audio")
	h := NewAPIHandler(
		&fakeTrackRepo{tracks: map[int64]*model.Track{
			1: {ID: 1, UserID: 1, ObjectKey: "audio/1/a.mp3", HasInlineAudio: true},
		}},
		nil,
		&fakeFacade{
			inline:  map[int64][]byte{1: payload},
			mimes:   map[int64]string{1: "audio/mpeg"},
			signErr: storage.ErrStorageUnavailable,
		},
		nil, nil, nil, nil,
		&config.Config{StreamURLTTL: 15 * time.Minute},
	)

	rec := httptest.NewRecorder()
	h.StreamHandler(rec, streamRequest(t, "1", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())

	// 内联副本同样支持区间请求
	rec = httptest.NewRecorder()
	h.StreamHandler(rec, streamRequest(t, "1", "bytes=0-3"))
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, []byte("fall"), rec.Body.Bytes())

	// 没有内联副本时才把存储错误透传给客户端
	h = NewAPIHandler(
		&fakeTrackRepo{tracks: map[int64]*model.Track{
			2: {ID: 2, UserID: 1, ObjectKey: "audio/2/b.mp3"},
		}},
		nil,
		&fakeFacade{signErr: storage.ErrStorageUnavailable},
		nil, nil, nil, nil,
		&config.Config{StreamURLTTL: 15 * time.Minute},
	)
	rec = httptest.NewRecorder()
	h.StreamHandler(rec, streamRequest(t, "2", ""))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamNotOwnedIsNotFound(t *testing.T) {
	h := newStreamTestHandler(
		map[int64]*model.Track{1: {ID: 1, UserID: 99, HasInlineAudio: true}},
		map[int64][]byte{1: []byte("x")},
	)

	rec := httptest.NewRecorder()
	h.StreamHandler(rec, streamRequest(t, "1", ""))

	// 不归属与不存在不可区分
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseRangeHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		size    int64
		want    *storage.ByteRange
		wantErr bool
	}{
		{name: "no header", header: "", size: 100, want: nil},
		{name: "full range", header: "bytes=0-99", size: 100, want: &storage.ByteRange{Start: 0, End: 99}},
		{name: "middle", header: "bytes=10-20", size: 100, want: &storage.ByteRange{Start: 10, End: 20}},
		{name: "open ended", header: "bytes=50-", size: 100, want: &storage.ByteRange{Start: 50, End: 99}},
		{name: "suffix", header: "bytes=-10", size: 100, want: &storage.ByteRange{Start: 90, End: 99}},
		{name: "suffix longer than object", header: "bytes=-500", size: 100, want: &storage.ByteRange{Start: 0, End: 99}},
		{name: "end clamped to size", header: "bytes=10-5000", size: 100, want: &storage.ByteRange{Start: 10, End: 99}},
		{name: "start beyond size", header: "bytes=100-", size: 100, wantErr: true},
		{name: "inverted", header: "bytes=20-10", size: 100, wantErr: true},
		{name: "multiple ranges", header: "bytes=0-1,5-6", size: 100, wantErr: true},
		{name: "wrong unit", header: "items=0-1", size: 100, wantErr: true},
		{name: "garbage", header: "bytes=abc-def", size: 100, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRangeHeader(tt.header, tt.size)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthMiddlewareAcceptsQueryToken(t *testing.T) {
	auth.SetSecret("test-secret")
	token, err := auth.GenerateToken(1, "alice")
	require.NoError(t, err)

	h := newStreamTestHandler(
		map[int64]*model.Track{1: {ID: 1, UserID: 1, HasInlineAudio: true}},
		map[int64][]byte{1: []byte("x")},
	)

	router := mux.NewRouter()
	router.HandleFunc("/api/stream/{id}", h.AuthMiddleware(h.StreamHandler)).Methods(http.MethodGet)

	// <audio>标签场景：凭证在查询参数里
	req := httptest.NewRequest(http.MethodGet, "/api/stream/1?token="+token, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 无凭证一律401
	req = httptest.NewRequest(http.MethodGet, "/api/stream/1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Bearer头同样有效
	req = httptest.NewRequest(http.MethodGet, "/api/stream/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
