package models

import "time"

// Snapshot is the dashboard state as of the last poll.
type Snapshot struct {
	Readings    []Reading `json:"readings"`
	Range       TimeRange `json:"range"`
	Clock       string    `json:"clock"`
	FetchedAt   time.Time `json:"fetched_at"`
	LastAttempt time.Time `json:"last_attempt"`
	LastError   string    `json:"last_error,omitempty"`
}

// Latest returns the first reading in query order, which is the newest.
func (s Snapshot) Latest() (Reading, bool) {
	if len(s.Readings) == 0 {
		return Reading{}, false
	}
	return s.Readings[0], true
}
