package storage

import "time"

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// CheckEvent is the audit record of one check attempt that reached the
// gateway. It is written for analytics only; sessions are never restored
// from it.
type CheckEvent struct {
	Timestamp       time.Time `json:"timestamp"`
	CheckID         string    `json:"check_id"`
	UserID          int64     `json:"user_id"`
	Status          string    `json:"status"`
	ReportChars     int       `json:"report_chars"`
	Recommendations int       `json:"recommendations"`
	ChecksRemaining int       `json:"checks_remaining"`
	Duration        string    `json:"duration"`
	Error           string    `json:"error,omitempty"`
}

// Recorder abstracts persistence of check events.
// LoadChecks returns events in the order they were appended.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendCheck(event CheckEvent) error
	LoadChecks() ([]CheckEvent, error)
}
