// Package domain contains the engagement event intake models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event is the ingest audit record. Processing outcomes are derived from the
// points ledger and streak tables; this row preserves what the client sent.
type Event struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	UserID         snowflake.ID      `gorm:"not null;uniqueIndex:ux_events_user_key,priority:1"`
	Type           string            `gorm:"type:text;not null"`
	IdempotencyKey string            `gorm:"type:text;not null;uniqueIndex:ux_events_user_key,priority:2"`
	OccurredAt     time.Time         `gorm:"not null"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "events" }
