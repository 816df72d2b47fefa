// Package dispatcher owns transcription execution: it deduplicates
// submissions through the task store, runs the engine on a bounded worker
// pool and records each outcome.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"audioTranscriber/api/events"
	"audioTranscriber/api/models"
	"audioTranscriber/api/store"
	"audioTranscriber/worker/engine"
	"audioTranscriber/worker/metrics"
	"audioTranscriber/worker/pool"
	"audioTranscriber/worker/subtitle"
)

var ErrStopped = errors.New("dispatcher is shutting down")

const (
	abandonedTaskError = "dispatcher stopped before the task started"
	writeTimeout       = 30 * time.Second
	publishTimeout     = 5 * time.Second
)

type Submission struct {
	Fingerprint      string
	Language         string
	Model            string
	AudioPath        string
	OriginalFilename string
	SourceURL        string
}

type Dispatcher struct {
	store     *store.Store
	engine    engine.Engine
	pool      *pool.WorkerPool
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// queueCtx ends when shutdown starts; jobs still waiting for a slot are
	// abandoned. runCtx ends when the shutdown grace period runs out and
	// cancels engine calls in flight.
	queueCtx  context.Context
	stopQueue context.CancelFunc
	runCtx    context.Context
	stopRun   context.CancelFunc

	// mu orders pool submissions against Shutdown, so no job is handed to the
	// pool once Shutdown has started waiting on it.
	mu      sync.Mutex
	stopped bool
}

func New(st *store.Store, eng engine.Engine, p *pool.WorkerPool, publisher events.Publisher, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if publisher == nil {
		publisher = events.Nop{}
	}

	d := &Dispatcher{
		store:     st,
		engine:    eng,
		pool:      p,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
	d.queueCtx, d.stopQueue = context.WithCancel(context.Background())
	d.runCtx, d.stopRun = context.WithCancel(context.Background())

	m.WorkerCapacity.Set(float64(p.Capacity()))

	return d
}

// Submit returns the existing task for the submission's fingerprint and
// language, or creates a pending task and schedules it. It never waits for
// the engine. created is false on a dedup hit, in which case the caller still
// owns sub.AudioPath.
func (d *Dispatcher) Submit(ctx context.Context, sub Submission) (task models.Task, created bool, err error) {
	if d.queueCtx.Err() != nil {
		return models.Task{}, false, ErrStopped
	}

	task, created, err = d.store.CreateOrGet(ctx, store.NewTask{
		Fingerprint:      sub.Fingerprint,
		Language:         sub.Language,
		Model:            sub.Model,
		AudioPath:        sub.AudioPath,
		OriginalFilename: sub.OriginalFilename,
		SourceURL:        sub.SourceURL,
	})
	if err != nil {
		return models.Task{}, false, err
	}

	if !created {
		d.metrics.TasksSubmitted.WithLabelValues("deduplicated").Inc()
		d.logger.Info("Duplicate submission",
			zap.String("task_id", task.ID),
			zap.String("fingerprint", task.Fingerprint),
			zap.String("language", task.Language),
			zap.String("status", string(task.Status)),
		)
		return task, false, nil
	}

	d.metrics.TasksSubmitted.WithLabelValues("created").Inc()
	d.logger.Info("Task created",
		zap.String("task_id", task.ID),
		zap.String("fingerprint", task.Fingerprint),
		zap.String("language", task.Language),
	)
	d.publish(task)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.abandon(task, ErrStopped)
		return models.Task{}, false, ErrStopped
	}
	d.schedule(task)
	d.mu.Unlock()

	return task, true, nil
}

func (d *Dispatcher) schedule(task models.Task) {
	d.metrics.TasksQueued.Inc()

	d.pool.Submit(d.queueCtx, func(context.Context) {
		d.metrics.TasksQueued.Dec()
		if d.queueCtx.Err() != nil {
			d.abandon(task, d.queueCtx.Err())
			return
		}
		d.execute(d.runCtx, task)
	}, func(err error) {
		d.metrics.TasksQueued.Dec()
		d.abandon(task, err)
	})
}

func (d *Dispatcher) execute(ctx context.Context, task models.Task) {
	logger := d.logger.With(zap.String("task_id", task.ID))
	defer d.removeAudio(logger, task.AudioPath)

	running, err := d.write(ctx, func(wctx context.Context) (models.Task, error) {
		return d.store.MarkRunning(wctx, task.ID)
	})
	if err != nil {
		logger.Error("Failed to mark task running", zap.Error(err))
		d.finish(ctx, logger, func(wctx context.Context) (models.Task, error) {
			return d.store.Fail(wctx, task.ID, fmt.Sprintf("could not start task: %v", err))
		})
		return
	}
	d.publish(running)

	logger.Info("Transcription started",
		zap.String("audio_path", task.AudioPath),
		zap.String("language", task.Language),
		zap.String("model", task.Model),
	)

	d.metrics.TasksRunning.Inc()
	start := time.Now()
	transcript, err := d.transcribe(ctx, task)
	d.metrics.TasksRunning.Dec()
	d.metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Warn("Transcription failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		d.finish(ctx, logger, func(wctx context.Context) (models.Task, error) {
			return d.store.Fail(wctx, task.ID, fmt.Sprintf("transcription failed: %v", err))
		})
		return
	}

	result := &models.Result{
		Text:     transcript.Text,
		Language: transcript.Language,
		Segments: transcript.Segments,
		SRT:      subtitle.RenderSRT(transcript.Segments),
	}
	if result.Segments == nil {
		result.Segments = []models.Segment{}
	}

	d.finish(ctx, logger, func(wctx context.Context) (models.Task, error) {
		return d.store.Complete(wctx, task.ID, result)
	})
}

// transcribe calls the engine and turns a panic into an error so one broken
// input cannot take the worker down.
func (d *Dispatcher) transcribe(ctx context.Context, task models.Task) (transcript *engine.Transcript, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()

	transcript, err = d.engine.Transcribe(ctx, engine.Request{
		AudioPath: task.AudioPath,
		Language:  task.Language,
		Model:     task.Model,
	})
	if err == nil && transcript == nil {
		err = errors.New("engine returned no transcript")
	}
	return transcript, err
}

func (d *Dispatcher) abandon(task models.Task, cause error) {
	logger := d.logger.With(zap.String("task_id", task.ID))
	defer d.removeAudio(logger, task.AudioPath)

	logger.Warn("Task abandoned before start", zap.Error(cause))
	d.finish(d.queueCtx, logger, func(wctx context.Context) (models.Task, error) {
		return d.store.Fail(wctx, task.ID, abandonedTaskError)
	})
}

// write runs a state change on a context that survives shutdown, so a job
// that already finished still gets recorded.
func (d *Dispatcher) write(ctx context.Context, fn func(context.Context) (models.Task, error)) (models.Task, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return fn(wctx)
}

func (d *Dispatcher) finish(ctx context.Context, logger *zap.Logger, fn func(context.Context) (models.Task, error)) {
	task, err := d.write(ctx, fn)
	if err != nil {
		logger.Error("Failed to record task outcome", zap.Error(err))
		return
	}

	d.metrics.TasksFinished.WithLabelValues(string(task.Status)).Inc()
	d.publish(task)

	logger.Info("Task finished",
		zap.String("status", string(task.Status)),
		zap.String("error", task.Error),
	)
}

func (d *Dispatcher) publish(task models.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, events.FromTask(task, time.Now())); err != nil {
		d.logger.Warn("Failed to publish task event",
			zap.String("task_id", task.ID),
			zap.String("status", string(task.Status)),
			zap.Error(err),
		)
	}
}

// removeAudio deletes the task's input file. Failures only get logged; they do
// not affect the task outcome.
func (d *Dispatcher) removeAudio(logger *zap.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove audio file", zap.String("path", path), zap.Error(err))
	}
}

// Shutdown stops accepting submissions, abandons queued jobs and waits for
// running ones. When ctx ends first, running engine calls are cancelled and
// recorded as failed before Shutdown returns ctx.Err().
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.stopQueue()
	d.mu.Unlock()

	d.logger.Info("Dispatcher stopping",
		zap.Int("running", d.pool.Active()),
		zap.Int("queued", d.pool.Queued()),
	)

	done := make(chan struct{})
	go func() {
		d.pool.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.stopRun()
		return nil
	case <-ctx.Done():
		d.stopRun()
		<-done
		return ctx.Err()
	}
}
