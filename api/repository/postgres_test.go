package repository

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"audioTranscriber/api/models"
)

// fakeRow hands scanTask fixed column values in SELECT order.
type fakeRow []any

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("expected %d destinations, got %d", len(r), len(dest))
	}
	for i, v := range r {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

func taskRow(status models.TaskStatus, result *string) fakeRow {
	fp, lang := "abc", "en"
	started := time.Now()
	return fakeRow{
		"task-1", &fp, &lang, "turbo", "/tmp/a.wav", "a.wav", "",
		status, result, (*string)(nil), time.Now(), &started, (*time.Time)(nil),
	}
}

func TestScanTask(t *testing.T) {
	result := `{"text":"hi","language":"en","segments":[],"srt":""}`

	task, err := scanTask(taskRow(models.StatusCompleted, &result))
	if err != nil {
		t.Fatalf("scanTask failed: %v", err)
	}
	if task.Fingerprint != "abc" || task.Language != "en" || task.Error != "" {
		t.Errorf("Unexpected nullable columns: %+v", task)
	}
	if task.Result == nil || task.Result.Text != "hi" {
		t.Errorf("Expected decoded result, got %+v", task.Result)
	}
}

func TestScanTask_UnknownStatus(t *testing.T) {
	_, err := scanTask(taskRow(models.TaskStatus("queued"), nil))
	if err == nil || !strings.Contains(err.Error(), "unknown status") {
		t.Errorf("Expected unknown status error, got %v", err)
	}
}

func TestScanTask_BadResult(t *testing.T) {
	broken := `{"text":`
	if _, err := scanTask(taskRow(models.StatusCompleted, &broken)); err == nil {
		t.Error("Expected decode error for malformed result")
	}
}
