package service

import (
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"audioTranscriber/api/dto"
	"audioTranscriber/api/ingest"
	"audioTranscriber/api/store"
	"audioTranscriber/worker/dispatcher"
)

var ErrTaskNotFound = store.ErrTaskNotFound

type TaskService struct {
	ingestor   *ingest.Ingestor
	dispatcher *dispatcher.Dispatcher
	store      *store.Store
	model      string
	maxWait    time.Duration
	logger     *zap.Logger
}

func NewTaskService(ingestor *ingest.Ingestor, d *dispatcher.Dispatcher, st *store.Store, model string, maxWait time.Duration, logger *zap.Logger) *TaskService {
	return &TaskService{
		ingestor:   ingestor,
		dispatcher: d,
		store:      st,
		model:      model,
		maxWait:    maxWait,
		logger:     logger,
	}
}

func (s *TaskService) SubmitUpload(ctx context.Context, filename string, r io.Reader, language string) (*dto.SubmitResponse, error) {
	in, err := s.ingestor.FromUpload(ctx, filename, r)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, in, language, "")
}

func (s *TaskService) SubmitURL(ctx context.Context, rawURL, language string) (*dto.SubmitResponse, error) {
	in, err := s.ingestor.FromURL(ctx, strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, in, language, rawURL)
}

// submit hands the stored input to the dispatcher. The temp file is dropped
// here unless a new task took ownership of it.
func (s *TaskService) submit(ctx context.Context, in *ingest.Input, language, sourceURL string) (*dto.SubmitResponse, error) {
	task, created, err := s.dispatcher.Submit(ctx, dispatcher.Submission{
		Fingerprint:      in.Fingerprint,
		Language:         strings.TrimSpace(language),
		Model:            s.model,
		AudioPath:        in.Path,
		OriginalFilename: in.Filename,
		SourceURL:        sourceURL,
	})
	if err != nil || !created {
		in.Discard()
	}
	if err != nil {
		return nil, err
	}

	return dto.NewSubmitResponse(task, created), nil
}

func (s *TaskService) GetStatus(ctx context.Context, taskID string) (*dto.TaskResponse, error) {
	task, err := s.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	resp := dto.NewTaskResponse(task)
	return &resp, nil
}

// WaitStatus returns once the task is terminal or timeout (capped at the
// configured maximum) has passed, whichever comes first.
func (s *TaskService) WaitStatus(ctx context.Context, taskID string, timeout time.Duration) (*dto.TaskResponse, error) {
	if timeout > s.maxWait {
		timeout = s.maxWait
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		task, changed, cancel, err := s.store.Subscribe(taskID)
		if err != nil {
			return nil, err
		}
		if changed == nil || timeout <= 0 {
			cancel()
			resp := dto.NewTaskResponse(task)
			return &resp, nil
		}

		select {
		case <-changed:
			cancel()
		case <-timer.C:
			cancel()
			return s.GetStatus(ctx, taskID)
		case <-ctx.Done():
			cancel()
			return nil, ctx.Err()
		}
	}
}

func (s *TaskService) ListTasks(ctx context.Context) (*dto.TaskListResponse, error) {
	tasks := s.store.List()

	resp := &dto.TaskListResponse{Tasks: make([]dto.TaskResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, dto.NewTaskResponse(t))
	}
	return resp, nil
}
