package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"audioTranscriber/api/events"
)

const (
	statusKeyPrefix = "task:status:"
	statusTTL       = 24 * time.Hour
	EventsChannel   = "task:events"
)

// StatusMirror copies task lifecycle events into Redis for dashboards and
// other external readers: the latest event per task under task:status:<id>,
// and every event on the task:events channel. The service never reads it.
type StatusMirror struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewStatusMirror(client redis.Cmdable) *StatusMirror {
	return &StatusMirror{client: client, ttl: statusTTL}
}

func StatusKey(taskID string) string {
	return fmt.Sprintf("%s%s", statusKeyPrefix, taskID)
}

func (m *StatusMirror) Publish(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, StatusKey(event.TaskID), data, m.ttl)
	pipe.Publish(ctx, EventsChannel, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror task %s: %w", event.TaskID, err)
	}
	return nil
}
