// Package domain contains the daily activity streak models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Record tracks one user's consecutive-day activity. There is exactly one
// row per user for the lifetime of the account.
type Record struct {
	UserID snowflake.ID `gorm:"primaryKey"`

	CurrentLength int `gorm:"not null"`
	LongestLength int `gorm:"not null"`

	// LastActiveLocalDate is the user's local calendar day of the most
	// recent accepted activity, stored as midnight UTC of that day.
	LastActiveLocalDate   time.Time `gorm:"not null"`
	TimezoneOffsetMinutes int       `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "streak_records" }

// LocalDate shifts a UTC instant by the user's timezone offset and truncates
// to the calendar day. Streaks follow the user's local day, not server UTC.
func LocalDate(occurredAt time.Time, offsetMinutes int) time.Time {
	shifted := occurredAt.UTC().Add(time.Duration(offsetMinutes) * time.Minute)
	return time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, time.UTC)
}
