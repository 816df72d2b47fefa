package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"audioTranscriber/api/models"
	"audioTranscriber/api/repository"
)

type flakyRepo struct {
	repository.Repository
	failCreate bool
	failUpdate bool
}

var errStorageDown = errors.New("storage down")

func (r *flakyRepo) CreateTask(ctx context.Context, task *models.Task) error {
	if r.failCreate {
		return errStorageDown
	}
	return r.Repository.CreateTask(ctx, task)
}

func (r *flakyRepo) UpdateTask(ctx context.Context, from models.TaskStatus, task *models.Task) error {
	if r.failUpdate {
		return errStorageDown
	}
	return r.Repository.UpdateTask(ctx, from, task)
}

func openStore(t *testing.T, repo repository.Repository, policy StalePolicy) *Store {
	t.Helper()
	s, err := Open(context.Background(), repo, zaptest.NewLogger(t), policy)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func sampleResult() *models.Result {
	return &models.Result{
		Text:     "hi there",
		Language: "en",
		Segments: []models.Segment{{Start: 0, End: 1.5, Text: "hi there"}},
		SRT:      "1\n00:00:00,000 --> 00:00:01,500\nhi there",
	}
}

func TestStore_Create_PendingAndListed(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryRepo(), StaleKeep)

	a, err := s.Create(ctx, NewTask{Fingerprint: "fp-a", Model: "turbo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	b, err := s.Create(ctx, NewTask{Fingerprint: "fp-b", Language: "de", Model: "turbo"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if a.Status != models.StatusPending || a.ID == "" || a.CreatedAt.IsZero() {
		t.Errorf("Expected pending task with id and created_at, got %+v", a)
	}

	list := s.List()
	if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
		t.Errorf("Expected tasks in creation order, got %+v", list)
	}

	got, err := s.Get(b.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Language != "de" || got.Model != "turbo" {
		t.Errorf("Expected stored language and model, got %+v", got)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	s := openStore(t, repository.NewMemoryRepo(), StaleKeep)

	if _, err := s.Get("never-issued"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestStore_Transitions_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryRepo(), StaleKeep)

	task, _ := s.Create(ctx, NewTask{Fingerprint: "fp", Model: "turbo"})

	running, err := s.MarkRunning(ctx, task.ID)
	if err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if running.Status != models.StatusRunning || running.StartedAt == nil {
		t.Errorf("Expected running task with started_at, got %+v", running)
	}

	done, err := s.Complete(ctx, task.ID, sampleResult())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != models.StatusCompleted || done.Result == nil || done.Error != "" || done.CompletedAt == nil {
		t.Errorf("Expected completed task with result only, got %+v", done)
	}
}

func TestStore_Transition_TerminalIsImmutable(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryRepo(), StaleKeep)

	task, _ := s.Create(ctx, NewTask{Fingerprint: "fp", Model: "turbo"})
	s.MarkRunning(ctx, task.ID)
	if _, err := s.Complete(ctx, task.ID, sampleResult()); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if _, err := s.Fail(ctx, task.ID, "late failure"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
	if _, err := s.Complete(ctx, task.ID, &models.Result{Text: "other"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}

	got, _ := s.Get(task.ID)
	if got.Status != models.StatusCompleted || got.Result.Text != "hi there" || got.Error != "" {
		t.Errorf("Expected terminal task unchanged, got %+v", got)
	}

	failed, _ := s.Create(ctx, NewTask{Fingerprint: "fp2", Model: "turbo"})
	s.MarkRunning(ctx, failed.ID)
	s.Fail(ctx, failed.ID, "decoder error")
	if _, err := s.MarkRunning(ctx, failed.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on failed task, got %v", err)
	}
	got, _ = s.Get(failed.ID)
	if got.Status != models.StatusFailed || got.Error != "decoder error" || got.Result != nil {
		t.Errorf("Expected failed task unchanged, got %+v", got)
	}
}

func TestStore_Transition_PendingCannotComplete(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryRepo(), StaleKeep)

	task, _ := s.Create(ctx, NewTask{Fingerprint: "fp", Model: "turbo"})
	if _, err := s.Complete(ctx, task.ID, sampleResult()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestStore_CreateOrGet_Dedup(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryRepo(), StaleKeep)

	first, created, err := s.CreateOrGet(ctx, NewTask{Fingerprint: "fp", Model: "turbo"})
	if err != nil || !created {
		t.Fatalf("Expected first submission to create, got created=%v err=%v", created, err)
	}

	second, created, err := s.CreateOrGet(ctx, NewTask{Fingerprint: "fp", Model: "turbo"})
	if err != nil || created {
		t.Fatalf("Expected dedup hit, got created=%v err=%v", created, err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected id %s, got %s", first.ID, second.ID)
	}

	other, created, _ := s.CreateOrGet(ctx, NewTask{Fingerprint: "fp", Language: "fr", Model: "turbo"})
	if !created || other.ID == first.ID {
		t.Errorf("Expected a distinct task for a different language, got %+v", other)
	}

	if len(s.List()) != 2 {
		t.Errorf("Expected 2 tasks, got %d", len(s.List()))
	}
}

func TestStore_CreateOrGet_NoFingerprintNeverDedups(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryRepo(), StaleKeep)

	a, _, _ := s.CreateOrGet(ctx, NewTask{Model: "turbo"})
	b, created, _ := s.CreateOrGet(ctx, NewTask{Model: "turbo"})
	if !created || a.ID == b.ID {
		t.Error("Expected tasks without fingerprint to never deduplicate")
	}
}

func TestStore_CreateOrGet_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryRepo(), StaleKeep)

	const k = 32
	ids := make([]string, k)
	var createdCount int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task, created, err := s.CreateOrGet(ctx, NewTask{Fingerprint: "same", Language: "en", Model: "turbo"})
			if err != nil {
				t.Errorf("CreateOrGet failed: %v", err)
				return
			}
			ids[i] = task.ID
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("Expected exactly 1 creation, got %d", createdCount)
	}
	for i := 1; i < k; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("Expected identical ids, got %s and %s", ids[0], ids[i])
		}
	}
	if len(s.List()) != 1 {
		t.Errorf("Expected 1 task record, got %d", len(s.List()))
	}
}

func TestStore_Lookup_FailedTaskNotEligible(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryRepo(), StaleKeep)

	task, _, _ := s.CreateOrGet(ctx, NewTask{Fingerprint: "fp", Model: "turbo"})
	s.MarkRunning(ctx, task.ID)
	s.Fail(ctx, task.ID, "backend unavailable")

	if _, ok := s.Lookup("fp", ""); ok {
		t.Error("Expected failed task to be absent from the dedup index")
	}

	retry, created, err := s.CreateOrGet(ctx, NewTask{Fingerprint: "fp", Model: "turbo"})
	if err != nil || !created || retry.ID == task.ID {
		t.Errorf("Expected a fresh task after failure, got %+v created=%v err=%v", retry, created, err)
	}

	old, _ := s.Get(task.ID)
	if old.Status != models.StatusFailed {
		t.Errorf("Expected old failed task to remain visible, got %s", old.Status)
	}
}

func TestStore_Lookup_LanguageSemantics(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryRepo(), StaleKeep)

	noHint, _ := s.Create(ctx, NewTask{Fingerprint: "fp", Model: "turbo"})

	if id, ok := s.Lookup("fp", ""); !ok || id != noHint.ID {
		t.Errorf("Expected absent hint to match absent hint, got %q %v", id, ok)
	}
	if _, ok := s.Lookup("fp", "en"); ok {
		t.Error("Expected a present hint to miss a task without hint")
	}
	if _, ok := s.Lookup("", ""); ok {
		t.Error("Expected empty fingerprint to never match")
	}
}

func TestStore_Open_RestoresStateAfterRestart(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	s := openStore(t, repo, StaleKeep)

	done, _ := s.Create(ctx, NewTask{Fingerprint: "a", Model: "turbo"})
	s.MarkRunning(ctx, done.ID)
	s.Complete(ctx, done.ID, sampleResult())

	failed, _ := s.Create(ctx, NewTask{Fingerprint: "b", Model: "turbo"})
	s.MarkRunning(ctx, failed.ID)
	s.Fail(ctx, failed.ID, "boom")

	pending, _ := s.Create(ctx, NewTask{Fingerprint: "c", Language: "ja", Model: "turbo"})

	restarted := openStore(t, repo, StaleKeep)

	list := restarted.List()
	if len(list) != 3 {
		t.Fatalf("Expected 3 tasks after restart, got %d", len(list))
	}
	if list[0].Status != models.StatusCompleted || list[0].Result == nil || list[0].Result.Text != "hi there" {
		t.Errorf("Expected completed task with result, got %+v", list[0])
	}
	if list[1].Status != models.StatusFailed || list[1].Error != "boom" {
		t.Errorf("Expected failed task with error, got %+v", list[1])
	}
	if list[2].Status != models.StatusPending {
		t.Errorf("Expected stale task surfaced as pending, got %s", list[2].Status)
	}

	if id, ok := restarted.Lookup("a", ""); !ok || id != done.ID {
		t.Error("Expected dedup index rebuilt for completed task")
	}
	if _, ok := restarted.Lookup("b", ""); ok {
		t.Error("Expected failed task absent from rebuilt index")
	}
	if _, ok := restarted.Lookup("c", "ja"); ok {
		t.Error("Expected stale pending task absent from rebuilt index")
	}

	again, created, err := restarted.CreateOrGet(ctx, NewTask{Fingerprint: "c", Language: "ja", Model: "turbo"})
	if err != nil || !created || again.ID == pending.ID {
		t.Errorf("Expected resubmission to create a new task, got %s created=%v err=%v", again.ID, created, err)
	}
}

func TestStore_Open_StaleFailPolicy(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	s := openStore(t, repo, StaleKeep)

	dir := t.TempDir()
	pendingPath := filepath.Join(dir, "pending.wav")
	runningPath := filepath.Join(dir, "running.wav")
	for _, path := range []string{pendingPath, runningPath} {
		if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0644); err != nil {
			t.Fatalf("Failed to write audio: %v", err)
		}
	}

	pending, _ := s.Create(ctx, NewTask{Fingerprint: "p", Model: "turbo", AudioPath: pendingPath})
	running, _ := s.Create(ctx, NewTask{Fingerprint: "r", Model: "turbo", AudioPath: runningPath})
	s.MarkRunning(ctx, running.ID)

	restarted := openStore(t, repo, StaleFail)

	for _, path := range []string{pendingPath, runningPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("Expected %s removed after stale recovery", path)
		}
	}

	for _, id := range []string{pending.ID, running.ID} {
		got, _ := restarted.Get(id)
		if got.Status != models.StatusFailed || got.Error != staleTaskError {
			t.Errorf("Expected stale task %s failed, got %+v", id, got)
		}
	}
	if _, ok := restarted.Lookup("p", ""); ok {
		t.Error("Expected stale failed task to be resubmittable")
	}
}

func TestStore_Create_PersistenceErrorPropagates(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{Repository: repository.NewMemoryRepo(), failCreate: true}
	s := openStore(t, repo, StaleKeep)

	if _, _, err := s.CreateOrGet(ctx, NewTask{Fingerprint: "fp", Model: "turbo"}); !errors.Is(err, errStorageDown) {
		t.Fatalf("Expected storage error, got %v", err)
	}
	if len(s.List()) != 0 {
		t.Error("Expected no task in mirror after failed write")
	}
	if _, ok := s.Lookup("fp", ""); ok {
		t.Error("Expected no dedup entry after failed write")
	}
}

func TestStore_Transition_PersistenceErrorLeavesMirror(t *testing.T) {
	ctx := context.Background()
	repo := &flakyRepo{Repository: repository.NewMemoryRepo()}
	s := openStore(t, repo, StaleKeep)

	task, _ := s.Create(ctx, NewTask{Fingerprint: "fp", Model: "turbo"})
	repo.failUpdate = true

	if _, err := s.MarkRunning(ctx, task.ID); !errors.Is(err, errStorageDown) {
		t.Fatalf("Expected storage error, got %v", err)
	}
	got, _ := s.Get(task.ID)
	if got.Status != models.StatusPending {
		t.Errorf("Expected mirror to stay pending, got %s", got.Status)
	}
}

func TestStore_Subscribe_NotifiedOnTransition(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryRepo(), StaleKeep)

	task, _ := s.Create(ctx, NewTask{Fingerprint: "fp", Model: "turbo"})

	snapshot, ch, cancel, err := s.Subscribe(task.ID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()
	if snapshot.Status != models.StatusPending || ch == nil {
		t.Fatalf("Expected pending snapshot with channel, got %+v", snapshot)
	}

	go s.MarkRunning(ctx, task.ID)

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected notification after transition")
	}

	got, _ := s.Get(task.ID)
	if got.Status != models.StatusRunning {
		t.Errorf("Expected running, got %s", got.Status)
	}
}

func TestStore_Subscribe_TerminalAndUnknown(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryRepo(), StaleKeep)

	if _, _, _, err := s.Subscribe("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}

	task, _ := s.Create(ctx, NewTask{Model: "turbo"})
	s.Fail(ctx, task.ID, "never started")

	snapshot, ch, cancel, err := s.Subscribe(task.ID)
	defer cancel()
	if err != nil || ch != nil || snapshot.Status != models.StatusFailed {
		t.Errorf("Expected terminal snapshot without channel, got %+v ch=%v err=%v", snapshot, ch, err)
	}
}
