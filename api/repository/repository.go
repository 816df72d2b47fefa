package repository

import (
	"context"
	"errors"

	"audioTranscriber/api/models"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskAlreadyExists = errors.New("task already exists")
	// ErrStatusConflict is returned by UpdateTask when the stored status no
	// longer matches the expected one.
	ErrStatusConflict = errors.New("task status changed concurrently")
)

// Repository is the durable side of the task store.
type Repository interface {
	// Migrate brings the schema to the latest version.
	Migrate(ctx context.Context) error
	// CreateTask persists a new task. CreatedAt is filled in from storage.
	CreateTask(ctx context.Context, task *models.Task) error
	// UpdateTask overwrites the mutable fields of task if the stored status
	// still equals from.
	UpdateTask(ctx context.Context, from models.TaskStatus, task *models.Task) error
	// ListTasks returns every task in insertion order.
	ListTasks(ctx context.Context) ([]*models.Task, error)
}
