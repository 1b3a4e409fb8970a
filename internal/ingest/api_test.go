package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sentrywire/internal/event"
	"sentrywire/internal/queue"
	"sentrywire/internal/statestore"
)

// memQueue is a minimal in-memory queue.Queue for exercising the
// IngestAPI handlers without a Redis dependency.
type memQueue struct {
	pushed [][]byte
	failPush bool
}

func (q *memQueue) Push(_ context.Context, data []byte) error {
	if q.failPush {
		return context.DeadlineExceeded
	}
	q.pushed = append(q.pushed, data)
	return nil
}
func (q *memQueue) EnsureGroup(context.Context) error { return nil }
func (q *memQueue) Read(context.Context, string, int64, time.Duration) ([]queue.Message, error) {
	return nil, nil
}
func (q *memQueue) Ack(context.Context, string) error            { return nil }
func (q *memQueue) DeadLetter(context.Context, queue.Message) error { return nil }

func TestHandleLogs_Accepted(t *testing.T) {
	store := statestore.NewMemoryStore()
	q := &memQueue{}
	s := NewServer(store, q, 1000)

	body := `{"source":"ssh","message":"Failed password for root from 1.2.3.4"}`
	req := httptest.NewRequest(http.MethodPost, "/ingest/logs", bytes.NewBufferString(body))
	req.RemoteAddr = "1.2.3.4:5555"
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.pushed) != 1 {
		t.Fatalf("expected 1 queued event, got %d", len(q.pushed))
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", resp["status"])
	}
}

func TestHandleLogs_Batch(t *testing.T) {
	store := statestore.NewMemoryStore()
	q := &memQueue{}
	s := NewServer(store, q, 1000)

	body := `[{"source":"ssh","message":"a"},{"source":"ssh","message":"b"}]`
	req := httptest.NewRequest(http.MethodPost, "/ingest/logs", bytes.NewBufferString(body))
	req.RemoteAddr = "1.2.3.4:5555"
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(q.pushed) != 2 {
		t.Fatalf("expected 2 queued events, got %d", len(q.pushed))
	}
}

func TestHandleLogs_ValidationRejectsMissingFields(t *testing.T) {
	store := statestore.NewMemoryStore()
	q := &memQueue{}
	s := NewServer(store, q, 1000)

	body := `{"level":"INFO"}`
	req := httptest.NewRequest(http.MethodPost, "/ingest/logs", bytes.NewBufferString(body))
	req.RemoteAddr = "1.2.3.4:5555"
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 (partial-failure-tolerant), got %d", rec.Code)
	}
	if len(q.pushed) != 0 {
		t.Errorf("expected invalid event to be skipped, got %d pushed", len(q.pushed))
	}
}

func TestHandleLogs_BlockedIP(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	_ = store.Block(ctx, "1.2.3.4", "Risk Score: 100", time.Minute)
	q := &memQueue{}
	s := NewServer(store, q, 1000)

	body := `{"source":"ssh","message":"test"}`
	req := httptest.NewRequest(http.MethodPost, "/ingest/logs", bytes.NewBufferString(body))
	req.RemoteAddr = "1.2.3.4:5555"
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for blocked IP, got %d", rec.Code)
	}
	if len(q.pushed) != 0 {
		t.Error("expected no event to be queued for a blocked IP")
	}
}

func TestHandleLogs_RateLimited(t *testing.T) {
	store := statestore.NewMemoryStore()
	q := &memQueue{}
	s := NewServer(store, q, 2)

	body := `{"source":"ssh","message":"test"}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/ingest/logs", bytes.NewBufferString(body))
		req.RemoteAddr = "1.2.3.4:5555"
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected request %d to be accepted, got %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/ingest/logs", bytes.NewBufferString(body))
	req.RemoteAddr = "1.2.3.4:5555"
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once over threshold, got %d", rec.Code)
	}
}

func TestHandleLogs_BlockedCheckedBeforeRateLimit(t *testing.T) {
	// A blocked IP must see 403 and leave its rate-limit counter
	// untouched: the blocklist gate runs before the counter is
	// incremented.
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	_ = store.Block(ctx, "1.2.3.4", "test", time.Minute)
	q := &memQueue{}
	s := NewServer(store, q, 1000)

	body := `{"source":"ssh","message":"test"}`
	req := httptest.NewRequest(http.MethodPost, "/ingest/logs", bytes.NewBufferString(body))
	req.RemoteAddr = "1.2.3.4:5555"
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 (blocklist checked first), got %d", rec.Code)
	}

	if count, _ := store.GetCounter(context.Background(), "rate_limit:1.2.3.4"); count != 0 {
		t.Errorf("expected rate counter untouched when blocked, got %d", count)
	}
}

func TestHandleRaw_Accepted(t *testing.T) {
	store := statestore.NewMemoryStore()
	q := &memQueue{}
	s := NewServer(store, q, 1000)

	req := httptest.NewRequest(http.MethodPost, "/ingest/raw", bytes.NewBufferString("raw log line"))
	req.RemoteAddr = "5.6.7.8:1111"
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(q.pushed) != 1 {
		t.Fatalf("expected 1 queued event, got %d", len(q.pushed))
	}

	var e event.Event
	if err := json.Unmarshal(q.pushed[0], &e); err != nil {
		t.Fatalf("failed to decode queued event: %v", err)
	}
	if e.Source != "raw_ingest" {
		t.Errorf("expected source raw_ingest, got %s", e.Source)
	}
	if e.Metadata["source_ip"] != "5.6.7.8" {
		t.Errorf("expected source_ip metadata 5.6.7.8, got %v", e.Metadata["source_ip"])
	}
	if e.Metadata["raw_format"] != "text" {
		t.Errorf("expected raw_format text, got %v", e.Metadata["raw_format"])
	}
}

func TestHandleLogs_HeaderTagsGoToMetadataOnly(t *testing.T) {
	store := statestore.NewMemoryStore()
	q := &memQueue{}
	s := NewServer(store, q, 1000)

	body := `{"source":"app","message":"test"}`
	req := httptest.NewRequest(http.MethodPost, "/ingest/logs", bytes.NewBufferString(body))
	req.RemoteAddr = "1.2.3.4:5555"
	req.Header.Set("X-Source-Host", "web-01")
	req.Header.Set("X-App-Name", "checkout")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	var e event.Event
	if err := json.Unmarshal(q.pushed[0], &e); err != nil {
		t.Fatalf("failed to decode queued event: %v", err)
	}
	if e.Metadata["source_host"] != "web-01" {
		t.Errorf("expected source_host metadata, got %v", e.Metadata["source_host"])
	}
	if e.Metadata["app_name"] != "checkout" {
		t.Errorf("expected app_name metadata, got %v", e.Metadata["app_name"])
	}
}
