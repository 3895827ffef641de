package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mediaindex/internal/domain"
)

// --- webhook sender ---

func TestWebhookSenderPostsEnvelope(t *testing.T) {
	var got webhookEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, time.Second)
	if err := sender.Send(context.Background(), 42, []byte(`{"text":"hi"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.RecipientID != 42 {
		t.Errorf("recipientId = %d, want 42", got.RecipientID)
	}
	if string(got.Payload) != `{"text":"hi"}` {
		t.Errorf("payload = %s", got.Payload)
	}
}

func TestWebhookSenderClassifiesResponses(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  domain.FailureKind
		permanent bool
	}{
		{http.StatusForbidden, domain.FailureBlocked, true},
		{http.StatusGone, domain.FailureDeleted, true},
		{http.StatusNotFound, domain.FailureDeleted, true},
		{http.StatusInternalServerError, domain.FailureTransport, false},
		{http.StatusTooManyRequests, domain.FailureTransport, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))
		sender := NewWebhookSender(srv.URL, time.Second)
		err := sender.Send(context.Background(), 1, []byte(`{}`))
		srv.Close()

		var de *domain.DeliveryError
		if !errors.As(err, &de) {
			t.Fatalf("status %d: error = %v, want DeliveryError", tt.status, err)
		}
		if de.Kind != tt.wantKind {
			t.Errorf("status %d: kind = %s, want %s", tt.status, de.Kind, tt.wantKind)
		}
		if de.Permanent() != tt.permanent {
			t.Errorf("status %d: permanent = %v, want %v", tt.status, de.Permanent(), tt.permanent)
		}
	}
}

func TestWebhookSenderCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sender := NewWebhookSender(srv.URL, time.Second)
	err := sender.Send(ctx, 1, []byte(`{}`))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestLogSenderAlwaysSucceeds(t *testing.T) {
	sender := &LogSender{}
	if err := sender.Send(context.Background(), 7, []byte(`{}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
