package dto

import (
	"time"

	"audioTranscriber/api/models"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type TranscribeURLRequest struct {
	URL      string `json:"url"`
	Language string `json:"language,omitempty"`
}

type SubmitResponse struct {
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	Deduplicated bool   `json:"deduplicated"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	OriginalFile string `json:"original_filename,omitempty"`
	SourceURL    string `json:"source_url,omitempty"`
}

type TaskResponse struct {
	ID               string         `json:"id"`
	Status           string         `json:"status"`
	Language         string         `json:"language,omitempty"`
	Model            string         `json:"model,omitempty"`
	OriginalFilename string         `json:"original_filename,omitempty"`
	SourceURL        string         `json:"source_url,omitempty"`
	Result           *models.Result `json:"result,omitempty"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        string         `json:"created_at"`
	StartedAt        *string        `json:"started_at,omitempty"`
	CompletedAt      *string        `json:"completed_at,omitempty"`
}

type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func NewSubmitResponse(task models.Task, created bool) *SubmitResponse {
	return &SubmitResponse{
		TaskID:       task.ID,
		Status:       string(task.Status),
		Deduplicated: !created,
		Fingerprint:  task.Fingerprint,
		OriginalFile: task.OriginalFilename,
		SourceURL:    task.SourceURL,
	}
}

func NewTaskResponse(task models.Task) TaskResponse {
	return TaskResponse{
		ID:               task.ID,
		Status:           string(task.Status),
		Language:         task.Language,
		Model:            task.Model,
		OriginalFilename: task.OriginalFilename,
		SourceURL:        task.SourceURL,
		Result:           task.Result,
		Error:            task.Error,
		CreatedAt:        task.CreatedAt.UTC().Format(timeLayout),
		StartedAt:        formatTime(task.StartedAt),
		CompletedAt:      formatTime(task.CompletedAt),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(timeLayout)
	return &formatted
}
