package db

import (
	"database/sql"
	"fmt"
	"log"

	"VoxFM/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB initializes the database schema, creating tables if they don't exist.
// users 表由 GORM 的 AutoMigrate 管理，这里只负责 tracks。
func InitDB() error {
	if err := createTracksTable(); err != nil {
		return err
	}

	log.Println("Database initialization completed.")
	return nil
}

func createTracksTable() error {
	// audio_data 为 base64 编码的内联音频；object_key 指向 MinIO 对象。
	// 二者对新数据互斥，历史迁移数据可能同时存在（内联作为回退，不清理）。
	query := `
	CREATE TABLE IF NOT EXISTS tracks (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL,
		title VARCHAR(255) NOT NULL,
		artist VARCHAR(255),
		album VARCHAR(255),
		duration FLOAT DEFAULT 0,
		cover_art_path VARCHAR(767),
		audio_data LONGTEXT,
		audio_mime VARCHAR(100) DEFAULT '',
		object_key VARCHAR(512) DEFAULT '',
		transcription_status VARCHAR(20) NOT NULL DEFAULT 'pending',
		transcript MEDIUMTEXT,
		transcript_meta MEDIUMTEXT,
		tempo FLOAT DEFAULT 0,
		musical_key VARCHAR(16) DEFAULT '',
		energy FLOAT DEFAULT 0,
		analyzed_at TIMESTAMP NULL DEFAULT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_tracks_user (user_id),
		INDEX idx_tracks_user_object (user_id, object_key(191))
	);
	`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create tracks table: %w", err)
	}

	log.Println("Tracks table initialized successfully (or already exists).")
	return nil
}
