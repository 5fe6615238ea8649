// Package domain contains the append-only points ledger models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Entry is one immutable point delta for a user. Entries are never updated
// or deleted; totals and levels are derived from the ledger.
type Entry struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	UserID         snowflake.ID `gorm:"not null;uniqueIndex:ux_points_entries_user_key,priority:1"`
	Delta          int64        `gorm:"not null"`
	Reason         string       `gorm:"type:text;not null"`
	IdempotencyKey string       `gorm:"type:text;not null;uniqueIndex:ux_points_entries_user_key,priority:2"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "points_entries" }
