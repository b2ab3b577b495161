package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"VoxFM/db"
	"VoxFM/logger"
	"VoxFM/model"

	"github.com/redis/go-redis/v9"
)

// 转写结果只在完成后写入缓存，重新转写时删除
const transcriptTTL = 24 * time.Hour

// TranscriptKey 根据trackID生成转写缓存的Redis键
func TranscriptKey(trackID int64) string {
	return fmt.Sprintf("transcript:%d", trackID)
}

// SetTranscript 缓存一条完成的转写结果
func SetTranscript(ctx context.Context, t *model.Transcript) error {
	if db.RedisClient == nil {
		return nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.RedisClient.Set(cctx, TranscriptKey(t.TrackID), data, transcriptTTL).Err(); err != nil {
		logger.Error("设置转写缓存失败",
			logger.Int64("trackId", t.TrackID),
			logger.ErrorField(err))
		return err
	}

	logger.Debug("转写缓存设置成功",
		logger.Int64("trackId", t.TrackID),
		logger.Int("dataSize", len(data)))
	return nil
}

// GetTranscript 获取缓存的转写结果；未命中或Redis故障时返回nil, nil，
// 让调用方继续查数据库
func GetTranscript(ctx context.Context, trackID int64) (*model.Transcript, error) {
	if db.RedisClient == nil {
		return nil, nil
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := db.RedisClient.Get(cctx, TranscriptKey(trackID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			logger.Debug("转写缓存不存在", logger.Int64("trackId", trackID))
			return nil, nil
		}
		logger.Warn("获取转写缓存失败，回退到数据库",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		return nil, nil
	}

	var t model.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		logger.Warn("解析转写缓存失败，回退到数据库",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		return nil, nil
	}

	return &t, nil
}

// DeleteTranscript 删除转写缓存（重新转写时调用）
func DeleteTranscript(ctx context.Context, trackID int64) error {
	if db.RedisClient == nil {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.RedisClient.Del(cctx, TranscriptKey(trackID)).Err(); err != nil {
		logger.Error("删除转写缓存失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		return err
	}
	return nil
}
