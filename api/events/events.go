// Package events describes task lifecycle notifications sent to external
// consumers. Publishing is best effort: the task store stays the source of
// truth and nothing in the core reads these events back.
package events

import (
	"context"
	"errors"
	"time"

	"audioTranscriber/api/models"
)

type Event struct {
	TaskID      string            `json:"task_id"`
	Status      models.TaskStatus `json:"status"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Language    string            `json:"language,omitempty"`
	Error       string            `json:"error,omitempty"`
	At          time.Time         `json:"at"`
}

func FromTask(t models.Task, at time.Time) Event {
	return Event{
		TaskID:      t.ID,
		Status:      t.Status,
		Fingerprint: t.Fingerprint,
		Language:    t.Language,
		Error:       t.Error,
		At:          at.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
