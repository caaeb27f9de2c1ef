package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dework/core/types"
	"dework/native/deposit"
)

func settledEvent(seq uint64) *types.Event {
	return &types.Event{
		Sequence:   seq,
		Type:       deposit.EventTypeSettled,
		Timestamp:  1_700_000_000,
		Attributes: map[string]string{"id": "1", "path": "normal_end"},
	}
}

func TestDispatcherSignsPayload(t *testing.T) {
	var (
		mu        sync.Mutex
		signature string
		body      []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		signature = r.Header.Get(HeaderSignature)
		body = raw
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Enqueue(settledEvent(7)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	received := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}
	waitFor(received, time.Second)
	if !received() {
		t.Fatalf("expected signature header")
	}
	mu.Lock()
	defer mu.Unlock()
	if signature != Sign([]byte("secret"), body) {
		t.Fatalf("signature does not match body")
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Sequence != 7 || payload.Type != deposit.EventTypeSettled || payload.DeliveryID == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Enqueue(settledEvent(1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if got := atomic.LoadInt32(&attempts); got < 3 {
		t.Fatalf("expected retries, got %d", got)
	}
}

func TestForwardFiltersEventTypes(t *testing.T) {
	var delivered atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderEvent) != deposit.EventTypeSettled {
			t.Errorf("unexpected event %s", r.Header.Get(HeaderEvent))
		}
		delivered.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	events := make(chan *types.Event, 3)
	events <- &types.Event{Sequence: 1, Type: deposit.EventTypeOpened}
	events <- settledEvent(2)
	close(events)
	if err := dispatcher.Forward(context.Background(), events, []string{deposit.EventTypeSettled}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	waitFor(func() bool { return delivered.Load() == 1 }, time.Second)
	if delivered.Load() != 1 {
		t.Fatalf("expected one delivery, got %d", delivered.Load())
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("secret")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://localhost", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}

func TestRetryPolicyBackoffIsCapped(t *testing.T) {
	policy := retryPolicy{attempts: 5, base: time.Second, ceiling: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, expected := range want {
		if got := policy.wait(i + 1); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, expected, got)
		}
	}
}
