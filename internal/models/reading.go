package models

import (
	"time"
)

// Reading is one temperature/humidity sample as stored in the hosted table.
type Reading struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt   time.Time `json:"created_at" gorm:"column:recorded_at;not null;autoCreateTime:false"`
	Temperature float64   `json:"temperature" gorm:"type:numeric(6,2);not null"`
	Humidity    float64   `json:"humidity" gorm:"type:numeric(6,2);not null"`
	ArchivedAt  time.Time `json:"-" gorm:"autoCreateTime"`
}

// TimeRange holds the user-chosen range boundaries exactly as entered.
// Empty strings mean the boundary is unset.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// IsSet reports whether both boundaries are present.
func (r TimeRange) IsSet() bool {
	return r.Start != "" && r.End != ""
}
