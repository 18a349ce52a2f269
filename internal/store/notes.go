package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Note is a note dictated to the assistant
type Note struct {
	ID        string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID string    `gorm:"column:session_id;type:text;index" json:"session_id"`
	Title     string    `gorm:"column:title;type:text" json:"title"`
	Body      string    `gorm:"column:body;type:text" json:"body"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (Note) TableName() string { return "notes" }

// NoteRepo stores notes
type NoteRepo interface {
	Insert(ctx context.Context, n *Note) error
	ListBySession(ctx context.Context, sessionID string) ([]Note, error)
}

type noteRepo struct {
	db *gorm.DB
}

// NewNoteRepo returns a gorm backed repository
func NewNoteRepo(db *gorm.DB) NoteRepo {
	return &noteRepo{db: db}
}

// Migrate creates or updates the notes table
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&Note{})
}

func (r *noteRepo) Insert(ctx context.Context, n *Note) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *noteRepo) ListBySession(ctx context.Context, sessionID string) ([]Note, error) {
	var rows []Note
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
