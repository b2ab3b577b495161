package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors surfaced by the facade. Handlers map these onto stable
// HTTP codes; the integrity reconciler keys off ErrObjectUnreadable.
var (
	// ErrStorageUnavailable 云存储未配置或凭证失效，调用方应降级到内联存储
	ErrStorageUnavailable = errors.New("cloud storage unavailable")
	// ErrObjectUnreadable 云对象缺失或读取失败
	ErrObjectUnreadable = errors.New("object unreadable")
	// ErrPayloadTooLarge 内联音频超出配置上限
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Pointer identifies where a track's audio bytes live: a cloud object key,
// or (when ObjectKey is empty) the inline column of the given track row.
type Pointer struct {
	TrackID   int64
	ObjectKey string
}

// InlinePointer points at the inline payload of a track row.
func InlinePointer(trackID int64) Pointer {
	return Pointer{TrackID: trackID}
}

// CloudPointer points at an object in the bucket.
func CloudPointer(objectKey string) Pointer {
	return Pointer{ObjectKey: objectKey}
}

// IsCloud reports whether the pointer refers to the object store.
func (p Pointer) IsCloud() bool {
	return p.ObjectKey != ""
}

// ByteRange is a closed byte interval of an object, used for range streaming.
type ByteRange struct {
	Start int64
	End   int64
}

// ObjectInfo describes the stream returned by GetStream.
type ObjectInfo struct {
	ContentType string
	Size        int64 // 对象总大小，Range 请求时仍为完整大小
	Range       *ByteRange
}

// Facade is the single interface every consumer asks for audio bytes,
// regardless of which backing store holds them.
type Facade interface {
	// CloudAvailable reports whether the cloud backend is configured.
	CloudAvailable() bool

	// PutInline persists the payload in the track's inline column.
	PutInline(ctx context.Context, trackID int64, data []byte, mimeType string) error

	// PutCloud generates an object key and a presigned PUT URL for a direct
	// client upload.
	PutCloud(ctx context.Context, ownerID int64, filename, contentType string) (key, uploadURL string, err error)

	// ProxyPut uploads the payload to the object store on the client's
	// behalf, for deployments where direct browser uploads fail on CORS.
	ProxyPut(ctx context.Context, ownerID int64, filename, contentType string, data []byte) (key string, err error)

	// GetBytes fully buffers the audio behind the pointer. Used by the
	// transcription pipeline.
	GetBytes(ctx context.Context, ptr Pointer) (data []byte, mimeType string, err error)

	// GetStream opens a streaming read, optionally restricted to a byte
	// range. The caller must close the returned reader.
	GetStream(ctx context.Context, ptr Pointer, rng *ByteRange) (io.ReadCloser, *ObjectInfo, error)

	// SignedReadURL returns a time-limited URL for direct client playback.
	SignedReadURL(ctx context.Context, ptr Pointer, ttl time.Duration) (string, error)

	// ProbeReadable performs a real partial read of the object, not a
	// metadata check. 元数据正常但对象损坏的情况必须探测得到。
	ProbeReadable(ctx context.Context, ptr Pointer) bool
}

// InlineStore is the narrow slice of the track repository the facade needs
// for the inline backend.
type InlineStore interface {
	SetInlineAudio(trackID int64, encoded, mimeType string) error
	GetInlineAudio(trackID int64) (encoded, mimeType string, err error)
}
