package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/correlation"
	"github.com/pulseboard/pulseboard/internal/database"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// JiraWebhook ingests a Jira delivery. The event type rides inside the body
// as webhookEvent. Deliveries that fail to apply are quarantined, never
// dropped, and the upstream still gets a 2xx so it does not re-deliver.
func (a *API) JiraWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var envelope struct {
		WebhookEvent string `json:"webhookEvent"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not JSON")
		return
	}

	eventID := r.Header.Get("X-Atlassian-Webhook-Identifier")
	a.ingest(w, r, "jira", envelope.WebhookEvent, eventID, string(body))
}

// GitHubWebhook ingests a GitHub delivery. The event type is the
// X-GitHub-Event header; when a webhook secret is configured the
// X-Hub-Signature-256 HMAC must match or the delivery is rejected.
func (a *API) GitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if secret := config.Cfg.GitHubWebhookSecret; secret != "" {
		if !verifyGitHubSignature(secret, body, r.Header.Get("X-Hub-Signature-256")) {
			writeError(w, http.StatusUnauthorized, "webhook signature mismatch")
			return
		}
	}

	eventType := r.Header.Get("X-GitHub-Event")
	eventID := r.Header.Get("X-GitHub-Delivery")
	a.ingest(w, r, "github", eventType, eventID, string(body))
}

// ingest applies one delivery inline. Success refreshes dashboards; failure
// quarantines the payload for later retry. Either way the delivery is
// recorded for the metrics endpoint.
func (a *API) ingest(w http.ResponseWriter, r *http.Request, source, eventType, eventID, payload string) {
	ctx, corrID := correlation.Ensure(r.Context())
	start := time.Now()

	applyErr := a.Queue.Apply(ctx, source, eventType, payload)
	recordDelivery(source, eventType, applyErr == nil, time.Since(start))

	if applyErr != nil {
		event, capErr := a.Queue.Capture(ctx, source, eventType, eventID, payload, applyErr)
		if capErr != nil {
			log.Printf("[webhooks] corr=%s failed to quarantine %s delivery: %v", corrID, source, capErr)
			writeAppError(w, r, capErr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":         "quarantined",
			"event_id":       event.ID,
			"correlation_id": corrID,
		})
		return
	}

	a.Gateway.Invalidate(source)
	if a.Hub != nil {
		a.Hub.Broadcast(source)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "processed",
		"correlation_id": corrID,
	})
}

// recordDelivery is best-effort bookkeeping; a stats write never fails a
// webhook response.
func recordDelivery(source, eventType string, success bool, elapsed time.Duration) {
	row := database.WebhookDelivery{
		Source:     source,
		EventType:  eventType,
		Success:    success,
		DurationMs: elapsed.Milliseconds(),
	}
	if err := database.DB.Create(&row).Error; err != nil {
		log.Printf("[webhooks] failed to record %s delivery: %v", source, err)
	}
}

func verifyGitHubSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := prefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(header), []byte(want))
}
