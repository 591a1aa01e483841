package syncclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/beepshq/beeps/internal/document/oplog"
	"github.com/beepshq/beeps/internal/hlc"
	"github.com/beepshq/beeps/internal/metrics"
)

func TestClient_PushRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := New(ts.URL, "tok", zap.NewNop(), metrics.NewMetrics("beeps_client_test_5xx"))
	op := oplog.AddPing(hlc.Timestamp{Wall: 1, Counter: 0, Node: 1}, time.Unix(0, 0))

	if err := client.Push(context.Background(), []oplog.Op{op}); err != nil {
		t.Fatalf("expected push to eventually succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestClient_PushDoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := New(ts.URL, "tok", zap.NewNop(), metrics.NewMetrics("beeps_client_test_4xx"))
	op := oplog.AddPing(hlc.Timestamp{Wall: 1, Counter: 0, Node: 1}, time.Unix(0, 0))

	if err := client.Push(context.Background(), []oplog.Op{op}); err == nil {
		t.Fatal("expected a permanent error for a 4xx response")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly 1 attempt for a permanent error, got %d", got)
	}
}

func TestClient_PushEmptyIsNoop(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := New(ts.URL, "tok", zap.NewNop(), metrics.NewMetrics("beeps_client_test_empty"))
	if err := client.Push(context.Background(), nil); err != nil {
		t.Fatalf("expected no error pushing an empty batch, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("expected no HTTP call for an empty push, got %d", got)
	}
}

func TestClient_Pull(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	client := New(ts.URL, "tok", zap.NewNop(), metrics.NewMetrics("beeps_client_test_pull"))
	ops, err := client.Pull(context.Background(), map[hlc.NodeID]hlc.Timestamp{
		1: {Wall: 100, Counter: 0, Node: 1},
	})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("expected no ops, got %d", len(ops))
	}
}
