package repository

import (
	"context"
	"sync"
	"time"

	"audioTranscriber/api/models"
)

// MemoryRepo keeps tasks in process memory. Nothing survives a restart; it is
// meant for local development and tests.
type MemoryRepo struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	order []string
	now   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		tasks: make(map[string]*models.Task),
		now:   time.Now,
	}
}

func (r *MemoryRepo) Migrate(ctx context.Context) error {
	return nil
}

func (r *MemoryRepo) CreateTask(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; ok {
		return ErrTaskAlreadyExists
	}

	task.CreatedAt = r.now().UTC()
	stored := *task
	r.tasks[task.ID] = &stored
	r.order = append(r.order, task.ID)

	return nil
}

func (r *MemoryRepo) UpdateTask(ctx context.Context, from models.TaskStatus, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tasks[task.ID]
	if !ok {
		return ErrTaskNotFound
	}
	if stored.Status != from {
		return ErrStatusConflict
	}

	stored.Status = task.Status
	stored.Result = task.Result
	stored.Error = task.Error
	stored.StartedAt = task.StartedAt
	stored.CompletedAt = task.CompletedAt

	return nil
}

func (r *MemoryRepo) ListTasks(ctx context.Context) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]*models.Task, 0, len(r.order))
	for _, id := range r.order {
		t := *r.tasks[id]
		tasks = append(tasks, &t)
	}
	return tasks, nil
}
