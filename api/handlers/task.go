package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"audioTranscriber/api/dto"
	"audioTranscriber/api/fetch"
	"audioTranscriber/api/middleware"
	"audioTranscriber/api/service"
	"audioTranscriber/api/validation"
	"audioTranscriber/worker/dispatcher"
)

const (
	uploadField     = "audio_file"
	multipartMemory = 32 << 20
	// multipartOverhead leaves room for boundaries and form fields on top of
	// the audio itself.
	multipartOverhead = 1 << 20
	// maxWaitParam bounds ?wait before the service applies its own cap.
	maxWaitParam = time.Hour
)

type TaskService interface {
	SubmitUpload(ctx context.Context, filename string, r io.Reader, language string) (*dto.SubmitResponse, error)
	SubmitURL(ctx context.Context, rawURL, language string) (*dto.SubmitResponse, error)
	GetStatus(ctx context.Context, taskID string) (*dto.TaskResponse, error)
	WaitStatus(ctx context.Context, taskID string, timeout time.Duration) (*dto.TaskResponse, error)
	ListTasks(ctx context.Context) (*dto.TaskListResponse, error)
}

type TaskHandler struct {
	service     TaskService
	maxFileSize int64
	logger      *zap.Logger
}

func NewTaskHandler(service TaskService, maxFileSize int64, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service:     service,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

func (h *TaskHandler) Upload(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	if r.Method != http.MethodPost {
		h.handleError(w, "Method not allowed", nil, traceID, http.StatusMethodNotAllowed)
		return
	}

	if h.maxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.handleError(w, "File too large", err, traceID, http.StatusRequestEntityTooLarge)
			return
		}
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		h.handleError(w, "Failed to get file", err, traceID, http.StatusBadRequest)
		return
	}
	defer file.Close()

	language := languageParam(r)

	resp, err := h.service.SubmitUpload(r.Context(), header.Filename, file, language)
	if err != nil {
		h.handleSubmitError(w, err, traceID)
		return
	}

	h.logger.Info("Audio uploaded",
		zap.String("trace_id", traceID),
		zap.String("task_id", resp.TaskID),
		zap.String("filename", header.Filename),
		zap.String("language", language),
		zap.Bool("deduplicated", resp.Deduplicated),
	)

	h.respondJSON(w, submitStatus(resp), resp)
}

func (h *TaskHandler) TranscribeURL(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	if r.Method != http.MethodPost {
		h.handleError(w, "Method not allowed", nil, traceID, http.StatusMethodNotAllowed)
		return
	}

	var req dto.TranscribeURLRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		h.handleError(w, "URL is required", nil, traceID, http.StatusBadRequest)
		return
	}

	resp, err := h.service.SubmitURL(r.Context(), req.URL, req.Language)
	if err != nil {
		h.handleSubmitError(w, err, traceID)
		return
	}

	h.logger.Info("Audio fetched",
		zap.String("trace_id", traceID),
		zap.String("task_id", resp.TaskID),
		zap.String("language", req.Language),
		zap.Bool("deduplicated", resp.Deduplicated),
	)

	h.respondJSON(w, submitStatus(resp), resp)
}

func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID := strings.TrimPrefix(r.URL.Path, "/task/")
	if taskID == "" || strings.Contains(taskID, "/") {
		h.handleError(w, "Task ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	var (
		resp *dto.TaskResponse
		err  error
	)
	if raw := r.URL.Query().Get("wait"); raw != "" {
		timeout, parseErr := parseWait(raw)
		if parseErr != nil {
			h.handleError(w, "Invalid wait parameter", parseErr, traceID, http.StatusBadRequest)
			return
		}
		resp, err = h.service.WaitStatus(r.Context(), taskID, timeout)
	} else {
		resp, err = h.service.GetStatus(r.Context(), taskID)
	}

	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get task status", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	resp, err := h.service.ListTasks(r.Context())
	if err != nil {
		h.handleError(w, "Failed to list tasks", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// parseWait reads ?wait in seconds. Values above maxWaitParam are clamped
// before conversion so huge inputs cannot overflow time.Duration.
func parseWait(raw string) (time.Duration, error) {
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0, fmt.Errorf("wait must be a finite non-negative number, got %q", raw)
	}
	if seconds > maxWaitParam.Seconds() {
		return maxWaitParam, nil
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func languageParam(r *http.Request) string {
	if lang := r.URL.Query().Get("language"); lang != "" {
		return lang
	}
	return r.FormValue("language")
}

func submitStatus(resp *dto.SubmitResponse) int {
	if resp.Deduplicated {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (h *TaskHandler) handleSubmitError(w http.ResponseWriter, err error, traceID string) {
	var statusErr *fetch.StatusError

	switch {
	case errors.Is(err, validation.ErrEmptyFile):
		h.handleError(w, "File is empty", err, traceID, http.StatusBadRequest)
	case errors.Is(err, validation.ErrUnsupportedFormat):
		h.handleError(w, "Unsupported audio format", err, traceID, http.StatusBadRequest)
	case errors.Is(err, validation.ErrFileTooLarge), errors.Is(err, fetch.ErrTooLarge):
		h.handleError(w, "File too large", err, traceID, http.StatusRequestEntityTooLarge)
	case errors.Is(err, fetch.ErrInvalidURL):
		h.handleError(w, "Invalid URL", err, traceID, http.StatusBadRequest)
	case errors.Is(err, fetch.ErrUnreachable):
		h.handleError(w, "Failed to fetch URL", err, traceID, http.StatusBadRequest)
	case errors.As(err, &statusErr):
		status := http.StatusBadRequest
		if statusErr.StatusCode >= 500 {
			status = http.StatusBadGateway
		}
		h.handleError(w, "Failed to fetch URL", err, traceID, status)
	case errors.Is(err, dispatcher.ErrStopped):
		h.handleError(w, "Service is shutting down", err, traceID, http.StatusServiceUnavailable)
	default:
		h.handleError(w, "Failed to create task", err, traceID, http.StatusInternalServerError)
	}
}

func (h *TaskHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	log := h.logger.Warn
	if status >= 500 {
		log = h.logger.Error
	}
	log(message,
		zap.String("trace_id", traceID),
		zap.Int("status", status),
		zap.Error(err),
	)

	h.respondJSON(w, status, dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
