package models

import (
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the state machine allows moving from s to next.
// pending -> running -> completed|failed; pending -> failed covers jobs that
// never got a worker slot.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
	SRT      string    `json:"srt"`
}

// Task is a single transcription request and its outcome. Result is set only
// when Status is completed, Error only when Status is failed.
type Task struct {
	ID               string
	Fingerprint      string
	Language         string
	Model            string
	AudioPath        string
	OriginalFilename string
	SourceURL        string
	Status           TaskStatus
	Result           *Result
	Error            string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// DedupKey is the deduplication key of the task. An empty Language means no
// hint was given.
type DedupKey struct {
	Fingerprint string
	Language    string
}

func (t *Task) Key() DedupKey {
	return DedupKey{Fingerprint: t.Fingerprint, Language: t.Language}
}
