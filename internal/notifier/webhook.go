package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const signatureHeader = "X-Ledger-Signature"

// WebhookNotifier posts events as JSON to an HTTP endpoint. Events are queued
// and sent by Run so that callers never wait on the network.
type WebhookNotifier struct {
	URL        string
	Secret     string
	Client     *http.Client
	MaxRetries int

	events chan Event
}

// NewWebhookNotifier creates a notifier with a bounded event queue.
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:        url,
		Secret:     secret,
		Client:     &http.Client{Timeout: 5 * time.Second},
		MaxRetries: 3,
		events:     make(chan Event, 256),
	}
}

// Notify queues evt; when the queue is full the event is dropped with a warning.
func (w *WebhookNotifier) Notify(_ context.Context, evt Event) {
	select {
	case w.events <- evt:
	default:
		log.Printf("[WARN] webhook queue full, dropping %s %s", evt.Kind, evt.RequestID)
	}
}

// Run delivers queued events until ctx is cancelled.
func (w *WebhookNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-w.events:
			if err := w.SendWithRetry(ctx, evt, w.MaxRetries); err != nil {
				log.Printf("[ERROR] webhook %s %s: %v", evt.Kind, evt.RequestID, err)
			}
		}
	}
}

// Send posts a single event.
func (w *WebhookNotifier) Send(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "RealmLedger-Webhook/1.0")
	if w.Secret != "" {
		req.Header.Set(signatureHeader, Sign(w.Secret, body))
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// SendWithRetry sends an event with exponential backoff retry.
func (w *WebhookNotifier) SendWithRetry(ctx context.Context, evt Event, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := w.Send(ctx, evt); err != nil {
			lastErr = err
			if i == maxRetries {
				break
			}
			backoff := time.Duration(1<<uint(i)) * time.Second
			log.Printf("[WARN] webhook send failed (attempt %d/%d): %v, retrying in %v", i+1, maxRetries+1, err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}
		return nil
	}
	return fmt.Errorf("all %d retries exhausted: %w", maxRetries+1, lastErr)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
