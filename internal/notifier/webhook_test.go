package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWebhookSend_SignsPayload(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if sig := r.Header.Get(signatureHeader); sig != Sign("s3cret", body) {
			t.Errorf("bad signature %q", sig)
		}
		json.Unmarshal(body, &got)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(srv.URL, "s3cret")
	evt := Event{Kind: RequestAccepted, RequestID: uuid.New(), Amount: "10.00", Currency: "money"}
	if err := w.Send(context.Background(), evt); err != nil {
		t.Fatal(err)
	}
	if got.Kind != RequestAccepted || got.RequestID != evt.RequestID {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestWebhookSendWithRetry_RecoversAfterFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	w := NewWebhookNotifier(srv.URL, "")
	if err := w.SendWithRetry(context.Background(), Event{Kind: RequestDenied}, 2); err != nil {
		t.Fatalf("expected success on retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestWebhookSendWithRetry_StopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	w := NewWebhookNotifier(srv.URL, "")
	if err := w.SendWithRetry(ctx, Event{Kind: RequestExpired}, 5); err == nil {
		t.Error("expected error after cancel")
	}
}
