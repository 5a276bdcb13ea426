package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quantive/signalbridge/internal/domain"
)

type fakeExecutor struct {
	mu      sync.Mutex
	signals []domain.Signal
	done    chan struct{}
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{done: make(chan struct{}, 8)}
}

func (f *fakeExecutor) Execute(ctx context.Context, sig domain.Signal) (domain.ExecutionResult, error) {
	f.mu.Lock()
	f.signals = append(f.signals, sig)
	f.mu.Unlock()
	f.done <- struct{}{}
	return domain.ExecutionResult{SignalKey: "k", Symbol: sig.Symbol, Action: sig.Action}, nil
}

func (f *fakeExecutor) wait(t *testing.T) domain.Signal {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("executor was never invoked")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signals[len(f.signals)-1]
}

type fakeSourceLimiter struct {
	err     error
	sources []string
}

func (f *fakeSourceLimiter) AllowSource(_ context.Context, sourceID string) error {
	f.sources = append(f.sources, sourceID)
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIngestAcceptsValidSignal(t *testing.T) {
	exec := newFakeExecutor()
	h := NewSignalHandler(exec, nil, time.Second, testLogger())

	body := `{"action":"buy","exit_type":"","symbol":"ESU6","timestamp":"2026-08-23T14:00:00Z","source_id":"src-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/signal", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Ingest(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	sig := exec.wait(t)
	if sig.Action != domain.ActionBuy {
		t.Errorf("action = %q, want BUY", sig.Action)
	}
	if sig.Symbol != "ESU6" || sig.SourceID != "src-1" {
		t.Errorf("unexpected signal: %+v", sig)
	}
	want := time.Date(2026, 8, 23, 14, 0, 0, 0, time.UTC)
	if !sig.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", sig.Timestamp, want)
	}
}

func TestIngestRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"action":`},
		{"missing action", `{"symbol":"ESU6","source_id":"src-1"}`},
		{"unknown action", `{"action":"HOLD","symbol":"ESU6","source_id":"src-1"}`},
		{"missing symbol", `{"action":"BUY","source_id":"src-1"}`},
		{"missing source", `{"action":"BUY","symbol":"ESU6"}`},
		{"bad timestamp", `{"action":"BUY","symbol":"ESU6","source_id":"src-1","timestamp":"yesterday"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := newFakeExecutor()
			h := NewSignalHandler(exec, nil, time.Second, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/signal", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Ingest(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if len(exec.signals) != 0 {
				t.Errorf("executor invoked for invalid payload")
			}
		})
	}
}

func TestIngestOverBudgetSourceGets429(t *testing.T) {
	exec := newFakeExecutor()
	limiter := &fakeSourceLimiter{err: domain.ErrRateLimited}
	h := NewSignalHandler(exec, limiter, time.Second, testLogger())

	body := `{"action":"BUY","symbol":"ESU6","source_id":"src-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/signal", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if len(limiter.sources) != 1 || limiter.sources[0] != "src-1" {
		t.Fatalf("limiter keyed on %v, want [src-1]", limiter.sources)
	}
	// The denied signal never reaches the executor.
	select {
	case <-exec.done:
		t.Fatal("executor invoked for a rate-limited signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIngestLimiterOutageFailsOpen(t *testing.T) {
	exec := newFakeExecutor()
	limiter := &fakeSourceLimiter{err: context.DeadlineExceeded}
	h := NewSignalHandler(exec, limiter, time.Second, testLogger())

	body := `{"action":"BUY","symbol":"ESU6","source_id":"src-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/signal", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	exec.wait(t)
}

func TestIngestDefaultsTimestampToNow(t *testing.T) {
	exec := newFakeExecutor()
	h := NewSignalHandler(exec, nil, time.Second, testLogger())

	before := time.Now().UTC()
	body := `{"action":"SELL","exit_type":"EXIT_50","symbol":"NQZ6","source_id":"src-2"}`
	req := httptest.NewRequest(http.MethodPost, "/api/signal", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	sig := exec.wait(t)
	if sig.Timestamp.Before(before) {
		t.Errorf("timestamp %v predates request", sig.Timestamp)
	}
	if sig.ExitType != "EXIT_50" {
		t.Errorf("exit type = %q, want EXIT_50", sig.ExitType)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp["status"] != "accepted" {
		t.Errorf("response status = %v, want accepted", resp["status"])
	}
}
