// Package ingest receives push status updates from the external
// transcoding service. Webhooks are a latency optimization only; anything
// they miss is recovered by the reconciliation poller.
package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"vodwatch/internal/jobs"
	"vodwatch/internal/logging"
	"vodwatch/internal/metrics"
	"vodwatch/internal/reconcile"
	"vodwatch/internal/services"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Vodwatch-Signature"

const maxBodyBytes = 1 << 20

// Payload is the webhook wire format.
type Payload struct {
	ExternalID      string `json:"externalId"`
	State           string `json:"state"`
	Progress        int    `json:"progress"`
	ErrorCode       string `json:"errorCode,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	DurationSeconds int64  `json:"durationSeconds,omitempty"`
	PlaybackURL     string `json:"playbackUrl,omitempty"`
}

// Ingestor authenticates and applies webhook deliveries.
type Ingestor struct {
	secret  string
	applier *reconcile.Applier
	store   *jobs.Store
	logger  *slog.Logger
}

// NewIngestor constructs a webhook ingestor. An empty secret disables the
// endpoint; deliveries are rejected until one is configured.
func NewIngestor(secret string, store *jobs.Store, applier *reconcile.Applier, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ingestor{
		secret:  strings.TrimSpace(secret),
		applier: applier,
		store:   store,
		logger:  logger,
	}
}

// VerifySignature checks the hex HMAC-SHA256 of body against the header
// value. A "sha256=" prefix on the header value is accepted.
func (i *Ingestor) VerifySignature(body []byte, header string) bool {
	if i.secret == "" {
		return false
	}
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(i.secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Sign computes the signature a sender would attach for body. Used by
// tests and the CLI's webhook simulator.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parsePayload(body []byte) (Payload, jobs.StateChange, error) {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Payload{}, jobs.StateChange{}, services.Wrap(services.ErrValidation, "ingest", "parse webhook", "decode body", err)
	}
	payload.ExternalID = strings.TrimSpace(payload.ExternalID)
	if payload.ExternalID == "" {
		return Payload{}, jobs.StateChange{}, services.Wrap(services.ErrValidation, "ingest", "parse webhook", "externalId is required", nil)
	}
	state, ok := jobs.ParseState(payload.State)
	if !ok {
		return Payload{}, jobs.StateChange{}, services.Wrap(services.ErrValidation, "ingest", "parse webhook",
			fmt.Sprintf("unknown state %q", payload.State), nil)
	}
	change := jobs.StateChange{
		State:           state,
		ProgressPercent: payload.Progress,
		ErrorCode:       strings.TrimSpace(payload.ErrorCode),
		ErrorMessage:    strings.TrimSpace(payload.ErrorMessage),
		DurationSeconds: payload.DurationSeconds,
		PlaybackURL:     strings.TrimSpace(payload.PlaybackURL),
	}
	if state == jobs.StateFailed && change.ErrorCode == "" {
		change.ErrorCode = "external_failure"
	}
	return payload, change, nil
}

// ServeHTTP handles POST deliveries. Authentication failures are rejected;
// everything after authentication acknowledges with 2xx so the sender
// never enters a redelivery storm over content the poller will fix anyway.
func (i *Ingestor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if !i.VerifySignature(body, r.Header.Get(SignatureHeader)) {
		i.logger.Warn("webhook rejected",
			logging.String(logging.FieldEventType, "webhook_bad_signature"),
			logging.String("remote", r.RemoteAddr))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	metrics.WebhooksReceived.Inc()

	payload, change, err := parsePayload(body)
	if err != nil {
		metrics.WebhooksDiscarded.WithLabelValues("malformed").Inc()
		i.logger.Warn("webhook discarded",
			logging.String(logging.FieldEventType, "webhook_malformed"),
			logging.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	job, err := i.store.GetByExternalID(r.Context(), payload.ExternalID)
	if err != nil {
		metrics.WebhooksDiscarded.WithLabelValues("internal_error").Inc()
		i.logger.Error("webhook lookup failed; acknowledging anyway",
			logging.String(logging.FieldExternal, payload.ExternalID),
			logging.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}
	if job == nil {
		metrics.WebhooksDiscarded.WithLabelValues("unknown_job").Inc()
		i.logger.Warn("webhook for unknown job discarded",
			logging.String(logging.FieldEventType, "webhook_unknown_job"),
			logging.String(logging.FieldExternal, payload.ExternalID))
		w.WriteHeader(http.StatusOK)
		return
	}

	result, err := i.applier.Apply(r.Context(), job, change)
	if err != nil {
		metrics.WebhooksDiscarded.WithLabelValues("internal_error").Inc()
		i.logger.Error("webhook apply failed; acknowledging anyway",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}
	if result.Applied {
		metrics.WebhooksApplied.Inc()
	} else {
		metrics.WebhooksDiscarded.WithLabelValues("not_applicable").Inc()
		i.logger.Debug("webhook dropped as redundant or invalid",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("requested", string(change.State)),
			logging.String(logging.FieldState, string(job.State)))
	}
	w.WriteHeader(http.StatusOK)
}
