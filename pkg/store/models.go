package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID             string `gorm:"primaryKey"`
	OwnerID        string `gorm:"not null;index"`
	Filename       string `gorm:"not null"`
	OriginalName   string `gorm:"not null"`
	FileType       string `gorm:"not null"`
	SizeBytes      int64  `gorm:"not null"`
	StorageKey     string
	Stage          string `gorm:"not null"`
	Progress       int    `gorm:"not null"`
	StatusMessage  string
	ErrorMessage   string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ExtractedText  string `gorm:"type:text"`
	Summary        string `gorm:"type:text"`
	DocumentType   string
	Entities       datatypes.JSON `gorm:"type:jsonb"`
	PageCount      int
	AnomalyScore   float64
	AnomalyDetails string
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

type EmbeddingModel struct {
	DocumentID string          `gorm:"primaryKey;index"`
	ChunkIndex int             `gorm:"primaryKey"`
	Vector     pgvector.Vector `gorm:"type:vector(768)"`
	Model      string          `gorm:"not null"`
	Text       string          `gorm:"type:text;not null"`
	CreatedAt  time.Time       `gorm:"not null"`
}

type ChatMessageModel struct {
	ID         string         `gorm:"primaryKey"`
	DocumentID string         `gorm:"not null;index"`
	UserID     string         `gorm:"not null"`
	Role       string         `gorm:"not null"`
	Content    string         `gorm:"type:text;not null"`
	Context    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}
