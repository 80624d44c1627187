package alerting

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

	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/config"
	"github.com/praetor-sec/praetor/internal/types"
)

// webhookPayload is the JSON body posted to the configured webhook URL.
type webhookPayload struct {
	Event     string              `json:"event"`
	Timestamp string              `json:"timestamp"`
	Alert     webhookAlertPayload `json:"alert"`
}

// webhookAlertPayload carries the alert fields in a JSON-friendly layout.
type webhookAlertPayload struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Severity        string `json:"severity"`
	Status          string `json:"status"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	ActorIP         string `json:"actor_ip,omitempty"`
	ActorUserID     string `json:"actor_user_id,omitempty"`
	ActorUsername   string `json:"actor_username,omitempty"`
	Count           int    `json:"count"`
	Threshold       int    `json:"threshold,omitempty"`
	RuleName        string `json:"rule_name,omitempty"`
	FirstOccurrence string `json:"first_occurrence"`
}

// WebhookNotifier posts alerts as signed JSON to an HTTP endpoint.
type WebhookNotifier struct {
	cfg    config.WebhookConfig
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier creates a WebhookNotifier from the given configuration.
func NewWebhookNotifier(cfg config.WebhookConfig, logger zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

// Dispatch posts the alert to the webhook URL, retrying once on failure.
func (w *WebhookNotifier) Dispatch(ctx context.Context, alert *types.SecurityAlert) error {
	payload := webhookPayload{
		Event:     "security_alert",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Alert: webhookAlertPayload{
			ID:              alert.ID,
			Type:            string(alert.Type),
			Severity:        alert.Severity.String(),
			Status:          string(alert.Status),
			Title:           alert.Title,
			Description:     alert.Description,
			ActorIP:         alert.Actor.IP,
			ActorUserID:     alert.Actor.UserID,
			ActorUsername:   alert.Actor.Username,
			Count:           alert.Metrics.Count,
			Threshold:       alert.Metrics.Threshold,
			RuleName:        alert.Detection.RuleName,
			FirstOccurrence: alert.FirstOccurrence.Format(time.RFC3339),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	if err := w.post(ctx, body); err == nil {
		return nil
	}

	w.logger.Warn().Str("alert_id", alert.ID).Msg("Webhook delivery failed, retrying once")
	if err := w.post(ctx, body); err != nil {
		return fmt.Errorf("webhook delivery failed after retry: %w", err)
	}
	return nil
}

// post performs a single signed HTTP POST.
func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	// HMAC-SHA256 signature when a secret is configured.
	if w.cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(w.cfg.Secret))
		mac.Write(body)
		req.Header.Set("X-Praetor-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	for key, value := range w.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
