package model

import "time"

// Transcription status values for a track. Transitions are
// pending -> processing -> completed | failed, and failed -> processing
// on a manual retry. completed is terminal until an explicit re-transcription.
const (
	TranscriptionPending    = "pending"
	TranscriptionProcessing = "processing"
	TranscriptionCompleted  = "completed"
	TranscriptionFailed     = "failed"
)

// Track represents an audio track owned by a single user.
//
// Exactly one of the two storage pointers is set once ingestion completes:
// HasInlineAudio reports a payload in the tracks.audio_data column, ObjectKey
// points into the MinIO bucket. Historical rows migrated to cloud storage may
// carry both; the inline payload is kept as a fallback and never deleted.
type Track struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"userId"`

	Title        string  `json:"title"`
	Artist       string  `json:"artist"`
	Album        string  `json:"album"`
	Duration     float32 `json:"duration"` // Duration in seconds
	CoverArtPath string  `json:"coverArtPath"`

	// 存储指针
	HasInlineAudio bool   `json:"hasInlineAudio"`
	InlineMimeType string `json:"-"`
	ObjectKey      string `json:"objectKey,omitempty"`

	// 转写状态
	TranscriptionStatus string `json:"transcriptionStatus"`
	Transcript          string `json:"-"` // 全文不随列表返回，走 /transcript 接口

	// 分析元数据，与转写相互独立
	Tempo      float32    `json:"tempo,omitempty"`
	MusicalKey string     `json:"musicalKey,omitempty"`
	Energy     float32    `json:"energy,omitempty"`
	AnalyzedAt *time.Time `json:"analyzedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasCloudAudio reports whether the track's audio lives in the object store.
func (t *Track) HasCloudAudio() bool {
	return t.ObjectKey != ""
}

// HasAudio reports whether any backing audio exists for the track.
func (t *Track) HasAudio() bool {
	return t.HasInlineAudio || t.HasCloudAudio()
}
