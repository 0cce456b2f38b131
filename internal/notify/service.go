// Package notify posts workflow lifecycle events to a configured webhook.
//
// Events are fire-and-forget: the engine never blocks on delivery and a
// failed webhook never fails an execution. Payloads are JSON, optionally
// signed with HMAC-SHA256 when a secret is configured.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/contentmill/contentmill/internal/config"
	"github.com/rs/zerolog/log"
)

// EventType describes what happened.
type EventType string

const (
	EventReviewRequested    EventType = "review_requested"
	EventStepFailed         EventType = "step_failed"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
)

// Event is the webhook payload.
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	RecipeID    string    `json:"recipe_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	StepOrder   int       `json:"step_order,omitempty"`
	StepName    string    `json:"step_name,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Service delivers events to the configured webhook URL. A Service with no
// URL configured silently drops every event.
type Service struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
}

// NewService creates a webhook notification service.
func NewService(cfg config.NotifyConfig) *Service {
	return &Service{
		url:     cfg.WebhookURL,
		secret:  cfg.Secret,
		timeout: cfg.Timeout,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether a webhook URL is configured.
func (s *Service) Enabled() bool { return s.url != "" }

// Dispatch delivers the event in the background. Safe to call on a nil or
// unconfigured service.
func (s *Service) Dispatch(event Event) {
	if s == nil || s.url == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	go s.deliver(event)
}

func (s *Service) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*s.timeout)
	defer cancel()

	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", string(event.Type)).Msg("Failed to marshal webhook payload")
		return
	}

	send := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "ContentMill-Webhook/1.0")
		req.Header.Set("X-ContentMill-Event", string(event.Type))
		if s.secret != "" {
			mac := hmac.New(sha256.New, []byte(s.secret))
			mac.Write(body)
			req.Header.Set("X-ContentMill-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, s.url)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(send, policy); err != nil {
		log.Warn().
			Err(err).
			Str("event", string(event.Type)).
			Str("execution", event.ExecutionID).
			Msg("Webhook delivery failed")
		return
	}

	log.Debug().
		Str("event", string(event.Type)).
		Str("execution", event.ExecutionID).
		Msg("Webhook delivered")
}
