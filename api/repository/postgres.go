package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"audioTranscriber/api/database"
	"audioTranscriber/api/models"
)

const uniqueViolation = "23505"

type PostgresRepo struct {
	db *database.DB
}

func NewPostgresRepo(db *database.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateTask(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (id, fingerprint, language, model, audio_path, original_filename, source_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		task.ID,
		nullable(task.Fingerprint),
		nullable(task.Language),
		task.Model,
		task.AudioPath,
		task.OriginalFilename,
		task.SourceURL,
		task.Status,
	).Scan(&task.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrTaskAlreadyExists
		}
		return err
	}

	return nil
}

func (r *PostgresRepo) UpdateTask(ctx context.Context, from models.TaskStatus, task *models.Task) error {
	var result *string
	if task.Result != nil {
		data, err := json.Marshal(task.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		s := string(data)
		result = &s
	}

	query := `
		UPDATE tasks
		SET status = $1, result = $2, error = $3, started_at = $4, completed_at = $5
		WHERE id = $6 AND status = $7
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		task.Status,
		result,
		nullable(task.Error),
		task.StartedAt,
		task.CompletedAt,
		task.ID,
		from,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, task.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrTaskNotFound
		}
		return ErrStatusConflict
	}

	return nil
}

func (r *PostgresRepo) ListTasks(ctx context.Context) ([]*models.Task, error) {
	query := `
		SELECT id, fingerprint, language, model, audio_path, original_filename, source_url,
		       status, result, error, created_at, started_at, completed_at
		FROM tasks
		ORDER BY seq
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var (
		task        models.Task
		fingerprint *string
		language    *string
		result      *string
		errorText   *string
	)

	err := row.Scan(
		&task.ID,
		&fingerprint,
		&language,
		&task.Model,
		&task.AudioPath,
		&task.OriginalFilename,
		&task.SourceURL,
		&task.Status,
		&result,
		&errorText,
		&task.CreatedAt,
		&task.StartedAt,
		&task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if !task.Status.Valid() {
		return nil, fmt.Errorf("task %s has unknown status %q", task.ID, task.Status)
	}

	task.Fingerprint = deref(fingerprint)
	task.Language = deref(language)
	task.Error = deref(errorText)

	if result != nil {
		var res models.Result
		if err := json.Unmarshal([]byte(*result), &res); err != nil {
			return nil, fmt.Errorf("decode result of task %s: %w", task.ID, err)
		}
		task.Result = &res
	}

	return &task, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
