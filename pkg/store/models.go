package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Role         string `gorm:"not null;index"`
	Name         string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	ProfileImage string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type BookModel struct {
	ID            string `gorm:"primaryKey"`
	AuthorID      string `gorm:"not null;index"`
	Title         string `gorm:"not null"`
	ISBN          string
	Genre         string
	ManuscriptRef string
	CoverRef      string
	AverageRating float64 `gorm:"not null;default:0"`
	Status        string  `gorm:"not null"`
	Draft         bool
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type ReviewModel struct {
	ID         string `gorm:"primaryKey"`
	BookID     string `gorm:"not null;uniqueIndex:idx_reviews_book_customer"`
	CustomerID string `gorm:"not null;uniqueIndex:idx_reviews_book_customer"`
	Rating     int    `gorm:"not null"`
	Comment    string
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time
}

type SuggestionModel struct {
	ID        string         `gorm:"primaryKey"`
	UserID    string         `gorm:"not null;index"`
	BookID    string         `gorm:"index"`
	Kind      string         `gorm:"not null"`
	Prompt    string         `gorm:"type:text;not null"`
	Result    string         `gorm:"type:text;not null"`
	Meta      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
}
