package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"VoxFM/config"
	"VoxFM/logger"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	cloudOpTimeout   = 30 * time.Second
	probeOpTimeout   = 10 * time.Second
	presignPutExpiry = 15 * time.Minute
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_\-\.]`)

// Store implements Facade over an optional MinIO backend and the track
// table's inline audio column.
type Store struct {
	client *minio.Client // nil 表示云存储未配置
	bucket string
	inline InlineStore
	cfg    *config.Config
}

// NewStore builds the storage facade. 未配置 MinIO 时云路径全部返回
// ErrStorageUnavailable，内联路径照常工作。
func NewStore(cfg *config.Config, inline InlineStore) (*Store, error) {
	s := &Store{
		bucket: cfg.MinioBucket,
		inline: inline,
		cfg:    cfg,
	}

	if !cfg.CloudConfigured() {
		logger.Warn("MinIO未配置，云存储降级为不可用，仅内联存储可用")
		return s, nil
	}

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	// 检查存储桶是否存在，不存在则创建
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	s.client = client
	logger.Info("MinIO 客户端初始化成功",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return s, nil
}

// CloudAvailable reports whether the MinIO backend is configured.
func (s *Store) CloudAvailable() bool {
	return s.client != nil
}

// objectKey 生成对象键: audio/<ownerID>/<uuid前缀>_<安全文件名>
func objectKey(ownerID int64, filename string) string {
	base := filepath.Base(filename)
	base = unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(base), "_")
	if base == "" || base == "." {
		base = "audio.dat"
	}
	if len(base) > 100 {
		base = base[len(base)-100:]
	}
	return fmt.Sprintf("audio/%d/%s_%s", ownerID, uuid.NewString()[:8], base)
}

// PutInline persists the payload base64-encoded in the track row.
func (s *Store) PutInline(ctx context.Context, trackID int64, data []byte, mimeType string) error {
	if int64(len(data)) > s.cfg.MaxInlineAudioBytes {
		return fmt.Errorf("%w: %d bytes exceeds inline ceiling %d", ErrPayloadTooLarge, len(data), s.cfg.MaxInlineAudioBytes)
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	if err := s.inline.SetInlineAudio(trackID, encoded, mimeType); err != nil {
		return fmt.Errorf("failed to store inline audio for track %d: %w", trackID, err)
	}

	logger.Debug("内联音频写入成功",
		logger.Int64("trackId", trackID),
		logger.Int("size", len(data)),
		logger.String("mimeType", mimeType))
	return nil
}

// PutCloud generates a key and presigned PUT URL for a direct client upload.
func (s *Store) PutCloud(ctx context.Context, ownerID int64, filename, contentType string) (string, string, error) {
	if s.client == nil {
		return "", "", ErrStorageUnavailable
	}

	key := objectKey(ownerID, filename)

	cctx, cancel := context.WithTimeout(ctx, cloudOpTimeout)
	defer cancel()

	u, err := s.client.PresignedPutObject(cctx, s.bucket, key, presignPutExpiry)
	if err != nil {
		return "", "", fmt.Errorf("failed to presign upload for %s: %w", key, err)
	}
	return key, u.String(), nil
}

// ProxyPut uploads on the client's behalf and returns the generated key.
func (s *Store) ProxyPut(ctx context.Context, ownerID int64, filename, contentType string, data []byte) (string, error) {
	if s.client == nil {
		return "", ErrStorageUnavailable
	}

	key := objectKey(ownerID, filename)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	_, err := s.client.PutObject(cctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to MinIO: %w", key, err)
	}

	logger.Info("代理上传完成",
		logger.Int64("ownerId", ownerID),
		logger.String("objectKey", key),
		logger.Int("size", len(data)))
	return key, nil
}

// GetBytes fully buffers the audio behind the pointer.
func (s *Store) GetBytes(ctx context.Context, ptr Pointer) ([]byte, string, error) {
	if ptr.IsCloud() {
		if s.client == nil {
			return nil, "", ErrStorageUnavailable
		}

		cctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		obj, err := s.client.GetObject(cctx, s.bucket, ptr.ObjectKey, minio.GetObjectOptions{})
		if err != nil {
			return nil, "", fmt.Errorf("%w: get %s: %v", ErrObjectUnreadable, ptr.ObjectKey, err)
		}
		defer obj.Close()

		stat, err := obj.Stat()
		if err != nil {
			return nil, "", fmt.Errorf("%w: stat %s: %v", ErrObjectUnreadable, ptr.ObjectKey, err)
		}

		data, err := io.ReadAll(obj)
		if err != nil {
			return nil, "", fmt.Errorf("%w: read %s: %v", ErrObjectUnreadable, ptr.ObjectKey, err)
		}
		return data, stat.ContentType, nil
	}

	encoded, mimeType, err := s.inline.GetInlineAudio(ptr.TrackID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read inline audio for track %d: %w", ptr.TrackID, err)
	}
	if encoded == "" {
		return nil, "", fmt.Errorf("track %d has no inline audio", ptr.TrackID)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode inline audio for track %d: %w", ptr.TrackID, err)
	}
	return data, mimeType, nil
}

// GetStream opens a streaming read, optionally restricted to a byte range.
// 云对象流式透传，不整体缓冲。
func (s *Store) GetStream(ctx context.Context, ptr Pointer, rng *ByteRange) (io.ReadCloser, *ObjectInfo, error) {
	if !ptr.IsCloud() {
		// 内联音频走 GetBytes，这里只为统一接口兜底
		data, mimeType, err := s.GetBytes(ctx, ptr)
		if err != nil {
			return nil, nil, err
		}
		info := &ObjectInfo{ContentType: mimeType, Size: int64(len(data))}
		if rng != nil {
			if rng.End >= int64(len(data)) || rng.Start > rng.End {
				return nil, nil, fmt.Errorf("invalid range %d-%d for %d bytes", rng.Start, rng.End, len(data))
			}
			info.Range = rng
			data = data[rng.Start : rng.End+1]
		}
		return io.NopCloser(bytes.NewReader(data)), info, nil
	}

	if s.client == nil {
		return nil, nil, ErrStorageUnavailable
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Minute)

	stat, err := s.client.StatObject(cctx, s.bucket, ptr.ObjectKey, minio.StatObjectOptions{})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: stat %s: %v", ErrObjectUnreadable, ptr.ObjectKey, err)
	}

	opts := minio.GetObjectOptions{}
	info := &ObjectInfo{ContentType: stat.ContentType, Size: stat.Size}
	if rng != nil {
		end := rng.End
		if end >= stat.Size {
			end = stat.Size - 1
		}
		if rng.Start >= stat.Size || rng.Start > end {
			cancel()
			return nil, nil, fmt.Errorf("invalid range %d-%d for %d bytes", rng.Start, rng.End, stat.Size)
		}
		if err := opts.SetRange(rng.Start, end); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("failed to set range: %w", err)
		}
		info.Range = &ByteRange{Start: rng.Start, End: end}
	}

	obj, err := s.client.GetObject(cctx, s.bucket, ptr.ObjectKey, opts)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: get %s: %v", ErrObjectUnreadable, ptr.ObjectKey, err)
	}

	return &cancelOnClose{ReadCloser: obj, cancel: cancel}, info, nil
}

// SignedReadURL returns a time-limited URL for direct playback.
func (s *Store) SignedReadURL(ctx context.Context, ptr Pointer, ttl time.Duration) (string, error) {
	if !ptr.IsCloud() {
		return "", fmt.Errorf("signed URLs only apply to cloud objects")
	}
	if s.client == nil {
		return "", ErrStorageUnavailable
	}

	cctx, cancel := context.WithTimeout(ctx, cloudOpTimeout)
	defer cancel()

	u, err := s.client.PresignedGetObject(cctx, s.bucket, ptr.ObjectKey, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign read for %s: %w", ptr.ObjectKey, err)
	}
	return u.String(), nil
}

// ProbeReadable performs a genuine 1-byte ranged read of the object.
// StatObject 不够：桶的元数据正常不代表对象体可读。
func (s *Store) ProbeReadable(ctx context.Context, ptr Pointer) bool {
	if !ptr.IsCloud() || s.client == nil {
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, probeOpTimeout)
	defer cancel()

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(0, 0); err != nil {
		return false
	}

	obj, err := s.client.GetObject(cctx, s.bucket, ptr.ObjectKey, opts)
	if err != nil {
		logger.Warn("对象探测失败",
			logger.String("objectKey", ptr.ObjectKey),
			logger.ErrorField(err))
		return false
	}
	defer obj.Close()

	buf := make([]byte, 1)
	n, err := obj.Read(buf)
	if n == 0 && err != nil && err != io.EOF {
		logger.Warn("对象探测读取失败",
			logger.String("objectKey", ptr.ObjectKey),
			logger.ErrorField(err))
		return false
	}
	return n > 0
}

// cancelOnClose ties the stream's context lifetime to the reader.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
