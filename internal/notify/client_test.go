package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/subscription-engine/internal/model"
)

func TestPostEvents_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/events" {
			t.Fatalf("path = %s, want /api/events", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("content-type = %q, want application/json", ct)
		}

		var events []Event
		if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(events) != 1 || events[0].Kind != "PURCHASE" || events[0].Amount != 100 {
			t.Fatalf("unexpected events: %+v", events)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	events := []Event{EventFromEntry(model.LedgerEntry{ID: 1, UserID: 7, Kind: model.LedgerPurchase, Amount: 100})}
	code, retry, err := client.PostEvents(ctx, events)
	if err != nil {
		t.Fatalf("PostEvents error: %v", err)
	}
	if code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d", code, http.StatusAccepted)
	}
	if retry != 0 {
		t.Fatalf("retryAfter = %v, want 0", retry)
	}
}

func TestPostEvents_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	code, retry, err := client.PostEvents(ctx, nil)
	if err != nil {
		t.Fatalf("PostEvents error: %v", err)
	}
	if code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", code, http.StatusTooManyRequests)
	}
	if retry < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", retry)
	}
}

func TestPostEvents_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	code, _, err := client.PostEvents(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected error for 500")
	}
	if code != http.StatusInternalServerError {
		t.Fatalf("status code = %d, want %d", code, http.StatusInternalServerError)
	}
}

func TestPostEvents_NotConfigured(t *testing.T) {
	var client *Client
	if _, _, err := client.PostEvents(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
