package repository

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"VoxFM/db"
	"VoxFM/model"
)

// TrackRepository defines the interface for track data operations.
type TrackRepository interface {
	CreateTrack(track *model.Track) (int64, error)
	GetTrackByID(id int64) (*model.Track, error)
	GetTrackByIDAndUser(id, userID int64) (*model.Track, error)
	GetAllTracksByUserID(userID int64) ([]*model.Track, error)
	UpdateTrackMetadata(trackID int64, title, artist, album string, duration float32, coverArtPath string) error
	UpdateAnalysis(trackID int64, tempo float32, musicalKey string, energy float32) error
	DeleteTrack(trackID int64) error
	DeleteTracksWithoutAudio(userID int64) (int64, error)

	// 存储指针
	SetInlineAudio(trackID int64, encoded, mimeType string) error
	GetInlineAudio(trackID int64) (encoded, mimeType string, err error)
	SetObjectKey(trackID int64, objectKey string) error
	ListCloudTracksByUserID(userID int64) ([]*model.Track, error)

	// 转写状态流转
	UpdateTranscriptionStatus(trackID int64, status string) error
	SetTranscriptionResult(trackID int64, text, metaJSON string) error
	GetTranscriptRow(trackID int64) (status, text, metaJSON string, err error)
	ListTracksNeedingTranscription(userID int64) ([]*model.Track, error)
}

// mysqlTrackRepository implements TrackRepository for MySQL.
type mysqlTrackRepository struct {
	DB *sql.DB
}

// NewMySQLTrackRepository creates a new instance of mysqlTrackRepository.
func NewMySQLTrackRepository() TrackRepository {
	return &mysqlTrackRepository{DB: db.DB}
}

const trackColumns = `id, user_id, title, COALESCE(artist, ''), COALESCE(album, ''), duration,
	COALESCE(cover_art_path, ''),
	(audio_data IS NOT NULL AND audio_data <> ''), COALESCE(audio_mime, ''),
	COALESCE(object_key, ''), transcription_status,
	tempo, COALESCE(musical_key, ''), energy, analyzed_at,
	created_at, updated_at`

func scanTrack(scanner interface{ Scan(...interface{}) error }) (*model.Track, error) {
	track := &model.Track{}
	var analyzedAt sql.NullTime
	err := scanner.Scan(
		&track.ID, &track.UserID, &track.Title, &track.Artist, &track.Album, &track.Duration,
		&track.CoverArtPath,
		&track.HasInlineAudio, &track.InlineMimeType,
		&track.ObjectKey, &track.TranscriptionStatus,
		&track.Tempo, &track.MusicalKey, &track.Energy, &analyzedAt,
		&track.CreatedAt, &track.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if analyzedAt.Valid {
		track.AnalyzedAt = &analyzedAt.Time
	}
	return track, nil
}

// CreateTrack adds a new track to the database.
func (r *mysqlTrackRepository) CreateTrack(track *model.Track) (int64, error) {
	query := `INSERT INTO tracks (user_id, title, artist, album, duration, cover_art_path, object_key, transcription_status, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateTrack: %w", err)
	}
	defer stmt.Close()

	status := track.TranscriptionStatus
	if status == "" {
		status = model.TranscriptionPending
	}

	now := time.Now()
	res, err := stmt.Exec(track.UserID, track.Title, track.Artist, track.Album, track.Duration,
		track.CoverArtPath, track.ObjectKey, status, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to execute CreateTrack: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for CreateTrack: %w", err)
	}
	log.Printf("Track created with ID: %d, Title: %s", id, track.Title)
	return id, nil
}

// GetTrackByID retrieves a track by its ID.
func (r *mysqlTrackRepository) GetTrackByID(id int64) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	track, err := scanTrack(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Track not found
		}
		return nil, fmt.Errorf("failed to scan track by ID %d: %w", id, err)
	}
	return track, nil
}

// GetTrackByIDAndUser retrieves a track only if it belongs to the given user.
// 不属于该用户的歌曲一律视为不存在，避免向非所有者泄露存在性。
func (r *mysqlTrackRepository) GetTrackByIDAndUser(id, userID int64) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ? AND user_id = ?`
	track, err := scanTrack(r.DB.QueryRow(query, id, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan track by ID %d for user %d: %w", id, userID, err)
	}
	return track, nil
}

// GetAllTracksByUserID retrieves all tracks for a user, newest first.
func (r *mysqlTrackRepository) GetAllTracksByUserID(userID int64) ([]*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE user_id = ? ORDER BY created_at DESC`
	return r.queryTracks(query, userID)
}

// ListCloudTracksByUserID retrieves the user's tracks that carry a cloud object key.
func (r *mysqlTrackRepository) ListCloudTracksByUserID(userID int64) ([]*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE user_id = ? AND object_key <> '' ORDER BY id`
	return r.queryTracks(query, userID)
}

// ListTracksNeedingTranscription retrieves tracks that have audio, no transcript yet,
// and are not currently processing.
func (r *mysqlTrackRepository) ListTracksNeedingTranscription(userID int64) ([]*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks
	           WHERE user_id = ?
	             AND (object_key <> '' OR (audio_data IS NOT NULL AND audio_data <> ''))
	             AND (transcript IS NULL OR transcript = '')
	             AND transcription_status <> ?
	           ORDER BY id`
	return r.queryTracks(query, userID, model.TranscriptionProcessing)
}

func (r *mysqlTrackRepository) queryTracks(query string, args ...interface{}) ([]*model.Track, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]*model.Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track row: %w", err)
		}
		tracks = append(tracks, track)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}

	return tracks, nil
}

// UpdateTrackMetadata updates owner-mutable descriptive fields.
func (r *mysqlTrackRepository) UpdateTrackMetadata(trackID int64, title, artist, album string, duration float32, coverArtPath string) error {
	query := `UPDATE tracks SET title = ?, artist = ?, album = ?, duration = ?, cover_art_path = ?, updated_at = ? WHERE id = ?`
	if _, err := r.DB.Exec(query, title, artist, album, duration, coverArtPath, time.Now(), trackID); err != nil {
		return fmt.Errorf("failed to execute UpdateTrackMetadata for track ID %d: %w", trackID, err)
	}
	return nil
}

// UpdateAnalysis updates the analysis metadata; its lifecycle is independent of transcription.
func (r *mysqlTrackRepository) UpdateAnalysis(trackID int64, tempo float32, musicalKey string, energy float32) error {
	query := `UPDATE tracks SET tempo = ?, musical_key = ?, energy = ?, analyzed_at = ?, updated_at = ? WHERE id = ?`
	now := time.Now()
	if _, err := r.DB.Exec(query, tempo, musicalKey, energy, now, now, trackID); err != nil {
		return fmt.Errorf("failed to execute UpdateAnalysis for track ID %d: %w", trackID, err)
	}
	return nil
}

// DeleteTrack removes a track row.
func (r *mysqlTrackRepository) DeleteTrack(trackID int64) error {
	if _, err := r.DB.Exec(`DELETE FROM tracks WHERE id = ?`, trackID); err != nil {
		return fmt.Errorf("failed to execute DeleteTrack for track ID %d: %w", trackID, err)
	}
	return nil
}

// DeleteTracksWithoutAudio removes the user's rows that have neither storage pointer.
func (r *mysqlTrackRepository) DeleteTracksWithoutAudio(userID int64) (int64, error) {
	query := `DELETE FROM tracks WHERE user_id = ?
	           AND (object_key IS NULL OR object_key = '')
	           AND (audio_data IS NULL OR audio_data = '')`
	res, err := r.DB.Exec(query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to execute DeleteTracksWithoutAudio for user %d: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows for user %d: %w", userID, err)
	}
	return n, nil
}

// SetInlineAudio stores the base64-encoded payload in the tracks row.
func (r *mysqlTrackRepository) SetInlineAudio(trackID int64, encoded, mimeType string) error {
	query := `UPDATE tracks SET audio_data = ?, audio_mime = ?, updated_at = ? WHERE id = ?`
	if _, err := r.DB.Exec(query, encoded, mimeType, time.Now(), trackID); err != nil {
		return fmt.Errorf("failed to execute SetInlineAudio for track ID %d: %w", trackID, err)
	}
	return nil
}

// GetInlineAudio reads the base64-encoded payload for a track.
func (r *mysqlTrackRepository) GetInlineAudio(trackID int64) (string, string, error) {
	query := `SELECT COALESCE(audio_data, ''), COALESCE(audio_mime, '') FROM tracks WHERE id = ?`
	var encoded, mimeType string
	err := r.DB.QueryRow(query, trackID).Scan(&encoded, &mimeType)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", "", fmt.Errorf("track %d not found", trackID)
		}
		return "", "", fmt.Errorf("failed to read inline audio for track ID %d: %w", trackID, err)
	}
	return encoded, mimeType, nil
}

// SetObjectKey points the track at a cloud object.
func (r *mysqlTrackRepository) SetObjectKey(trackID int64, objectKey string) error {
	query := `UPDATE tracks SET object_key = ?, updated_at = ? WHERE id = ?`
	if _, err := r.DB.Exec(query, objectKey, time.Now(), trackID); err != nil {
		return fmt.Errorf("failed to execute SetObjectKey for track ID %d: %w", trackID, err)
	}
	return nil
}

// UpdateTranscriptionStatus moves the track through the transcription state machine.
func (r *mysqlTrackRepository) UpdateTranscriptionStatus(trackID int64, status string) error {
	query := `UPDATE tracks SET transcription_status = ?, updated_at = ? WHERE id = ?`
	if _, err := r.DB.Exec(query, status, time.Now(), trackID); err != nil {
		return fmt.Errorf("failed to execute UpdateTranscriptionStatus for track ID %d: %w", trackID, err)
	}
	return nil
}

// SetTranscriptionResult persists a completed transcript and marks the track completed.
func (r *mysqlTrackRepository) SetTranscriptionResult(trackID int64, text, metaJSON string) error {
	query := `UPDATE tracks SET transcript = ?, transcript_meta = ?, transcription_status = ?, updated_at = ? WHERE id = ?`
	if _, err := r.DB.Exec(query, text, metaJSON, model.TranscriptionCompleted, time.Now(), trackID); err != nil {
		return fmt.Errorf("failed to execute SetTranscriptionResult for track ID %d: %w", trackID, err)
	}
	return nil
}

// GetTranscriptRow reads the stored transcript columns for a track.
func (r *mysqlTrackRepository) GetTranscriptRow(trackID int64) (string, string, string, error) {
	query := `SELECT transcription_status, COALESCE(transcript, ''), COALESCE(transcript_meta, '') FROM tracks WHERE id = ?`
	var status, text, meta string
	err := r.DB.QueryRow(query, trackID).Scan(&status, &text, &meta)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", "", "", fmt.Errorf("track %d not found", trackID)
		}
		return "", "", "", fmt.Errorf("failed to read transcript for track ID %d: %w", trackID, err)
	}
	return status, text, meta, nil
}
