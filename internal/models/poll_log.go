package models

import (
	"time"

	"gorm.io/datatypes"
)

// PollLog records one request against the remote table.
type PollLog struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	FetchedAt time.Time      `json:"fetched_at" gorm:"not null;index"`
	SourceURL string         `json:"source_url" gorm:"not null"`
	Success   bool           `json:"success" gorm:"not null"`
	Rows      int            `json:"rows" gorm:"not null"`
	Error     string         `json:"error,omitempty" gorm:"type:text"`
	Query     datatypes.JSON `json:"query" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
}
