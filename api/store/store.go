// Package store holds the task table mirror and the deduplication index.
//
// The repository is the source of truth. Every state-changing call writes to
// the repository first and updates the in-memory mirror only after that write
// succeeded, so a failed write never leaves the mirror ahead of storage.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"audioTranscriber/api/models"
	"audioTranscriber/api/repository"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// StalePolicy decides what happens to tasks a previous process left pending
// or running. With StaleKeep they stay listed as-is, but they are not dedup
// targets, so resubmitting the same input creates a task that runs. StaleFail
// marks them failed and removes their audio files.
type StalePolicy string

const (
	StaleKeep StalePolicy = "keep"
	StaleFail StalePolicy = "fail"
)

const staleTaskError = "interrupted: service restarted before completion"

// NewTask describes a task to create.
type NewTask struct {
	Fingerprint      string
	Language         string
	Model            string
	AudioPath        string
	OriginalFilename string
	SourceURL        string
}

type Store struct {
	repo   repository.Repository
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	mu       sync.RWMutex
	tasks    map[string]*models.Task
	order    []string
	index    map[models.DedupKey]string
	watchers map[string][]chan struct{}

	keys *keyLock[models.DedupKey]
	ids  *keyLock[string]
}

// Open rebuilds the mirror and the dedup index from repo and applies policy to
// tasks left unfinished by a previous run. The returned store is ready to
// serve.
func Open(ctx context.Context, repo repository.Repository, logger *zap.Logger, policy StalePolicy) (*Store, error) {
	s := &Store{
		repo:     repo,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		tasks:    make(map[string]*models.Task),
		index:    make(map[models.DedupKey]string),
		watchers: make(map[string][]chan struct{}),
		keys:     newKeyLock[models.DedupKey](),
		ids:      newKeyLock[string](),
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}

	if err := s.recoverStale(ctx, policy); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	tasks, err := s.repo.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tasks {
		s.tasks[t.ID] = t
		s.order = append(s.order, t.ID)

		// Only completed tasks are dedup targets after a restart. Anything still
		// pending or running belongs to a dead process and will never finish here.
		if t.Fingerprint == "" || t.Status != models.StatusCompleted {
			continue
		}
		// Older data may hold several completed tasks for one key; the earliest wins.
		if _, exists := s.index[t.Key()]; !exists {
			s.index[t.Key()] = t.ID
		}
	}

	s.logger.Info("Task store loaded",
		zap.Int("tasks", len(s.tasks)),
		zap.Int("dedup_keys", len(s.index)),
	)

	return nil
}

func (s *Store) recoverStale(ctx context.Context, policy StalePolicy) error {
	var stale []string
	for _, t := range s.List() {
		if !t.Status.IsTerminal() {
			stale = append(stale, t.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	if policy != StaleFail {
		s.logger.Warn("Tasks left unfinished by a previous run",
			zap.Int("count", len(stale)),
			zap.Strings("task_ids", stale),
		)
		return nil
	}

	for _, id := range stale {
		failed, err := s.Fail(ctx, id, staleTaskError)
		if err != nil {
			return fmt.Errorf("fail stale task %s: %w", id, err)
		}
		s.removeAudio(failed)
	}

	s.logger.Warn("Failed tasks left unfinished by a previous run", zap.Int("count", len(stale)))

	return nil
}

// removeAudio deletes the input file of a task that will never run.
func (s *Store) removeAudio(t models.Task) {
	if t.AudioPath == "" {
		return
	}
	if err := os.Remove(t.AudioPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove audio file",
			zap.String("task_id", t.ID),
			zap.String("path", t.AudioPath),
			zap.Error(err),
		)
	}
}

// Create persists a new pending task and registers it in the dedup index when
// it has a fingerprint. It does not check for an existing task; use
// CreateOrGet for deduplicated submissions.
func (s *Store) Create(ctx context.Context, nt NewTask) (models.Task, error) {
	task := &models.Task{
		ID:               s.newID(),
		Fingerprint:      nt.Fingerprint,
		Language:         nt.Language,
		Model:            nt.Model,
		AudioPath:        nt.AudioPath,
		OriginalFilename: nt.OriginalFilename,
		SourceURL:        nt.SourceURL,
		Status:           models.StatusPending,
	}

	if err := s.repo.CreateTask(ctx, task); err != nil {
		return models.Task{}, fmt.Errorf("persist task: %w", err)
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	if task.Fingerprint != "" {
		s.index[task.Key()] = task.ID
	}
	s.mu.Unlock()

	return *task, nil
}

// CreateOrGet returns the live task for the fingerprint and language of nt,
// or creates one. Calls for the same key are serialized, so concurrent
// submissions of one input produce exactly one task. created reports whether
// a new task was made.
func (s *Store) CreateOrGet(ctx context.Context, nt NewTask) (task models.Task, created bool, err error) {
	if nt.Fingerprint == "" {
		task, err = s.Create(ctx, nt)
		return task, err == nil, err
	}

	key := models.DedupKey{Fingerprint: nt.Fingerprint, Language: nt.Language}
	unlock := s.keys.Lock(key)
	defer unlock()

	if id, ok := s.Lookup(key.Fingerprint, key.Language); ok {
		if existing, err := s.Get(id); err == nil {
			return existing, false, nil
		}
	}

	task, err = s.Create(ctx, nt)
	return task, err == nil, err
}

// Lookup returns the id of the live task for fingerprint and language. Failed
// tasks are not eligible, so a failed input can be submitted again.
func (s *Store) Lookup(fingerprint, language string) (string, bool) {
	if fingerprint == "" {
		return "", false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.index[models.DedupKey{Fingerprint: fingerprint, Language: language}]
	return id, ok
}

func (s *Store) Get(id string) (models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}
	return *t, nil
}

// List returns every task in creation order.
func (s *Store) List() []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tasks[id])
	}
	return out
}

func (s *Store) MarkRunning(ctx context.Context, id string) (models.Task, error) {
	return s.Transition(ctx, id, models.StatusRunning, nil, "")
}

func (s *Store) Complete(ctx context.Context, id string, result *models.Result) (models.Task, error) {
	if result == nil {
		return models.Task{}, errors.New("complete task: nil result")
	}
	return s.Transition(ctx, id, models.StatusCompleted, result, "")
}

func (s *Store) Fail(ctx context.Context, id string, message string) (models.Task, error) {
	if message == "" {
		message = "unknown error"
	}
	return s.Transition(ctx, id, models.StatusFailed, nil, message)
}

// Transition moves task id to status to. Terminal tasks reject every
// transition with ErrInvalidTransition.
func (s *Store) Transition(ctx context.Context, id string, to models.TaskStatus, result *models.Result, errMsg string) (models.Task, error) {
	unlock := s.ids.Lock(id)
	defer unlock()

	s.mu.RLock()
	cur, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return models.Task{}, ErrTaskNotFound
	}

	if !cur.Status.CanTransition(to) {
		return models.Task{}, fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, id, cur.Status, to)
	}

	next := *cur
	next.Status = to
	now := s.now().UTC()

	switch to {
	case models.StatusRunning:
		next.StartedAt = &now
	case models.StatusCompleted:
		next.Result = result
		next.CompletedAt = &now
	case models.StatusFailed:
		next.Error = errMsg
		next.CompletedAt = &now
	}

	if err := s.repo.UpdateTask(ctx, cur.Status, &next); err != nil {
		return models.Task{}, fmt.Errorf("persist task %s: %w", id, err)
	}

	s.mu.Lock()
	s.tasks[id] = &next
	if to == models.StatusFailed && next.Fingerprint != "" && s.index[next.Key()] == id {
		delete(s.index, next.Key())
	}
	watchers := s.watchers[id]
	delete(s.watchers, id)
	s.mu.Unlock()

	for _, ch := range watchers {
		close(ch)
	}

	return next, nil
}

// Subscribe returns the current state of task id and a channel closed on its
// next transition. The channel is nil when the task is already terminal. The
// returned cancel func releases the subscription.
func (s *Store) Subscribe(id string) (models.Task, <-chan struct{}, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, nil, func() {}, ErrTaskNotFound
	}
	if t.Status.IsTerminal() {
		return *t, nil, func() {}, nil
	}

	ch := make(chan struct{})
	s.watchers[id] = append(s.watchers[id], ch)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[id]
		for i, c := range list {
			if c == ch {
				s.watchers[id] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(s.watchers[id]) == 0 {
			delete(s.watchers, id)
		}
	}

	return *t, ch, cancel, nil
}
