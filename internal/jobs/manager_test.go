package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitFor(t *testing.T, m *Manager, id string, status string) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if job.Status == status {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, status)
	return Job{}
}

func TestSubmitCompletes(t *testing.T) {
	m := NewManager(2)
	defer m.Shutdown()

	id := m.Submit("workflow-test", func(ctx context.Context) (any, error) {
		return map[string]int{"rows": 12}, nil
	})

	job := waitFor(t, m, id, StatusCompleted)
	if job.Error != "" {
		t.Errorf("unexpected error: %s", job.Error)
	}
	result, ok := job.Result.(map[string]int)
	if !ok || result["rows"] != 12 {
		t.Errorf("result = %#v", job.Result)
	}
	if job.FinishedAt.IsZero() {
		t.Error("finished time not set")
	}
}

func TestSubmitFailureRecorded(t *testing.T) {
	m := NewManager(2)
	defer m.Shutdown()

	id := m.Submit("workflow-test", func(ctx context.Context) (any, error) {
		return nil, errors.New("tool blew up")
	})

	job := waitFor(t, m, id, StatusFailed)
	if job.Error != "tool blew up" {
		t.Errorf("error = %q", job.Error)
	}
	if job.Result != nil {
		t.Errorf("failed job carries a result: %#v", job.Result)
	}
}

func TestFailureDoesNotBlockLaterJobs(t *testing.T) {
	m := NewManager(1)
	defer m.Shutdown()

	m.Submit("a", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	id := m.Submit("b", func(ctx context.Context) (any, error) {
		return "ok", nil
	})

	job := waitFor(t, m, id, StatusCompleted)
	if job.Result != "ok" {
		t.Errorf("result = %#v", job.Result)
	}
}

func TestGetUnknownJob(t *testing.T) {
	m := NewManager(1)
	defer m.Shutdown()

	if _, err := m.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestShutdownWaitsForRunningJob(t *testing.T) {
	m := NewManager(1)
	done := make(chan struct{})
	release := make(chan struct{})

	id := m.Submit("slow", func(ctx context.Context) (any, error) {
		<-release
		close(done)
		return nil, nil
	})

	waitFor(t, m, id, StatusRunning)
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	m.Shutdown()

	select {
	case <-done:
	default:
		t.Error("Shutdown returned before the running job finished")
	}
}
