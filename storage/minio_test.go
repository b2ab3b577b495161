package storage

import (
	"context"
	"encoding/base64"
	"io"
	"strings"
	"testing"

	"VoxFM/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memInlineStore struct {
	encoded map[int64]string
	mimes   map[int64]string
}

func newMemInlineStore() *memInlineStore {
	return &memInlineStore{encoded: make(map[int64]string), mimes: make(map[int64]string)}
}

func (m *memInlineStore) SetInlineAudio(trackID int64, encoded, mimeType string) error {
	m.encoded[trackID] = encoded
	m.mimes[trackID] = mimeType
	return nil
}

func (m *memInlineStore) GetInlineAudio(trackID int64) (string, string, error) {
	return m.encoded[trackID], m.mimes[trackID], nil
}

func newDegradedStore(t *testing.T, inline InlineStore) *Store {
	t.Helper()
	cfg := &config.Config{
		MinioBucket:         "voxfm",
		MaxInlineAudioBytes: 64,
	}
	require.False(t, cfg.CloudConfigured())
	s, err := NewStore(cfg, inline)
	require.NoError(t, err)
	return s
}

func TestPutInlineRoundTrip(t *testing.T) {
	inline := newMemInlineStore()
	s := newDegradedStore(t, inline)

	payload := []byte("some audio bytes")
	require.NoError(t, s.PutInline(context.Background(), 1, payload, "audio/mpeg"))

	// 列里存的是base64
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), inline.encoded[1])

	data, mimeType, err := s.GetBytes(context.Background(), InlinePointer(1))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "audio/mpeg", mimeType)
}

func TestPutInlineEnforcesCeiling(t *testing.T) {
	s := newDegradedStore(t, newMemInlineStore())

	err := s.PutInline(context.Background(), 1, make([]byte, 65), "audio/mpeg")
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestCloudPathsDegradeWithoutClient(t *testing.T) {
	s := newDegradedStore(t, newMemInlineStore())
	ctx := context.Background()

	assert.False(t, s.CloudAvailable())

	_, _, err := s.PutCloud(ctx, 1, "song.mp3", "audio/mpeg")
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = s.ProxyPut(ctx, 1, "song.mp3", "audio/mpeg", []byte("x"))
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, _, err = s.GetBytes(ctx, CloudPointer("audio/1/x.mp3"))
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, _, err = s.GetStream(ctx, CloudPointer("audio/1/x.mp3"), nil)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = s.SignedReadURL(ctx, CloudPointer("audio/1/x.mp3"), 0)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	assert.False(t, s.ProbeReadable(ctx, CloudPointer("audio/1/x.mp3")))
}

func TestGetStreamInlineRange(t *testing.T) {
	inline := newMemInlineStore()
	s := newDegradedStore(t, inline)

	payload := []byte("0123456789")
	require.NoError(t, s.PutInline(context.Background(), 1, payload, "audio/mpeg"))

	reader, info, err := s.GetStream(context.Background(), InlinePointer(1), &ByteRange{Start: 2, End: 5})
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), data)
	assert.Equal(t, int64(10), info.Size)
	require.NotNil(t, info.Range)
	assert.Equal(t, int64(2), info.Range.Start)
	assert.Equal(t, int64(5), info.Range.End)
}

func TestGetStreamInlineInvalidRange(t *testing.T) {
	inline := newMemInlineStore()
	s := newDegradedStore(t, inline)
	require.NoError(t, s.PutInline(context.Background(), 1, []byte("0123456789"), "audio/mpeg"))

	_, _, err := s.GetStream(context.Background(), InlinePointer(1), &ByteRange{Start: 5, End: 100})
	assert.Error(t, err)
}

func TestObjectKeyShape(t *testing.T) {
	key := objectKey(42, "My Song (final mix).mp3")

	assert.True(t, strings.HasPrefix(key, "audio/42/"), "key %q must be namespaced by owner", key)
	assert.True(t, strings.HasSuffix(key, ".mp3"), "key %q must keep the extension", key)
	assert.NotContains(t, key, " ")
	assert.NotContains(t, key, "(")

	// 同名文件生成不同的键
	assert.NotEqual(t, key, objectKey(42, "My Song (final mix).mp3"))
}

func TestObjectKeyFallbackName(t *testing.T) {
	key := objectKey(1, "   ")
	assert.Contains(t, key, "audio.dat")
}
