package model

import "time"

// User represents a user in the system.
// 用户表由 GORM 管理（见 db/gorm.go），歌曲表仍走原生 SQL。
type User struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"size:100;uniqueIndex;not null"`
	Email        string    `json:"email" gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"` // Not exposed in API responses
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName maps the model onto the users table.
func (User) TableName() string {
	return "users"
}
