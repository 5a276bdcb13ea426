package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/quantive/signalbridge/internal/domain"
)

type fakeWriter struct {
	puts    map[string][]byte
	failPut bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{puts: make(map[string][]byte)}
}

func (f *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if f.failPut {
		return errors.New("upload refused")
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.puts[path] = b
	return nil
}

type fakeVerifier struct {
	missing bool
}

func (f *fakeVerifier) Exists(ctx context.Context, path string) (bool, error) {
	return !f.missing, nil
}

type fakeTradeArchiveStore struct {
	closed  []domain.Trade
	deleted int64
}

func (f *fakeTradeArchiveStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range f.closed {
		if t.ClosedAt != nil && t.ClosedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTradeArchiveStore) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	var kept []domain.Trade
	for _, t := range f.closed {
		if t.ClosedAt != nil && t.ClosedAt.Before(before) {
			f.deleted++
			continue
		}
		kept = append(kept, t)
	}
	f.closed = kept
	return f.deleted, nil
}

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func closedTrade(id string, closedAt time.Time) domain.Trade {
	pnl := 42.5
	return domain.Trade{
		ID:            id,
		UserID:        "u1",
		PositionID:    "pos-" + id,
		Symbol:        "ESU6",
		Side:          domain.OrderSideBuy,
		AccountID:     "acct-1",
		TotalQuantity: 3,
		RealizedPnL:   &pnl,
		Status:        domain.TradeStatusClosed,
		Environment:   domain.EnvLive,
		OpenedAt:      closedAt.Add(-time.Hour),
		ClosedAt:      &closedAt,
	}
}

func newTestArchiver(w *fakeWriter, v *fakeVerifier, ts *fakeTradeArchiveStore, audit *fakeAudit) *Archiver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewArchiver(w, v, ts, audit, logger)
}

func TestArchiveClosedTradesUploadsAndDeletes(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := closedTrade("t1", cutoff.Add(-48*time.Hour))
	recent := closedTrade("t2", cutoff.Add(48*time.Hour))

	w := newFakeWriter()
	ts := &fakeTradeArchiveStore{closed: []domain.Trade{old, recent}}
	audit := &fakeAudit{}
	a := newTestArchiver(w, &fakeVerifier{}, ts, audit)

	n, err := a.ArchiveClosedTrades(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveClosedTrades: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived = %d, want 1", n)
	}

	path := "archive/trades/2026-08.jsonl"
	data, ok := w.puts[path]
	if !ok {
		t.Fatalf("no upload at %s; uploads: %v", path, w.puts)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("jsonl lines = %d, want 1", len(lines))
	}
	var rec archivedTrade
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("jsonl line is not valid JSON: %v", err)
	}
	if rec.ID != "t1" || rec.PositionID != "pos-t1" {
		t.Errorf("unexpected archived record: %+v", rec)
	}

	if len(ts.closed) != 1 || ts.closed[0].ID != "t2" {
		t.Errorf("recent trade should survive the sweep, store: %+v", ts.closed)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.trades" {
		t.Errorf("audit events = %v, want [archive.trades]", audit.events)
	}
}

func TestArchiveClosedTradesNoEligibleRows(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ts := &fakeTradeArchiveStore{closed: []domain.Trade{closedTrade("t1", cutoff.Add(time.Hour))}}
	w := newFakeWriter()
	a := newTestArchiver(w, &fakeVerifier{}, ts, &fakeAudit{})

	n, err := a.ArchiveClosedTrades(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveClosedTrades: %v", err)
	}
	if n != 0 {
		t.Errorf("archived = %d, want 0", n)
	}
	if len(w.puts) != 0 {
		t.Errorf("unexpected uploads: %v", w.puts)
	}
}

func TestArchiveClosedTradesKeepsRowsWhenUploadFails(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ts := &fakeTradeArchiveStore{closed: []domain.Trade{closedTrade("t1", cutoff.Add(-time.Hour))}}
	w := newFakeWriter()
	w.failPut = true
	a := newTestArchiver(w, &fakeVerifier{}, ts, &fakeAudit{})

	if _, err := a.ArchiveClosedTrades(context.Background(), cutoff); err == nil {
		t.Fatal("expected upload error")
	}
	if len(ts.closed) != 1 {
		t.Errorf("rows deleted despite failed upload")
	}
}

func TestArchiveClosedTradesKeepsRowsWhenVerifyFails(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ts := &fakeTradeArchiveStore{closed: []domain.Trade{closedTrade("t1", cutoff.Add(-time.Hour))}}
	a := newTestArchiver(newFakeWriter(), &fakeVerifier{missing: true}, ts, &fakeAudit{})

	if _, err := a.ArchiveClosedTrades(context.Background(), cutoff); err == nil {
		t.Fatal("expected verification error")
	}
	if len(ts.closed) != 1 {
		t.Errorf("rows deleted despite missing archive object")
	}
}
