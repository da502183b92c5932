// Package dispatch packages inbound messages into bounded-size job
// payloads and submits them to the job queue.
package dispatch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/relaystack/sms-relay/internal/model"
	"github.com/relaystack/sms-relay/pkg/logger"
	"github.com/relaystack/sms-relay/pkg/metrics"
)

const (
	// PayloadCeiling is the job system's metadata limit the serialized
	// payload must stay under (50KB, well below the hard 64KB cap).
	PayloadCeiling = 50 * 1024

	// SafetyMargin leaves headroom under the ceiling when truncating.
	SafetyMargin = 1024
)

// JobPublisher submits a serialized payload under a dispatch id.
// *natsq.StreamManager satisfies it.
type JobPublisher interface {
	PublishJob(ctx context.Context, dispatchID string, data []byte) error
}

// Config carries the fixed fields of every payload this dispatcher builds.
type Config struct {
	// CallbackURL is where the worker reports completion.
	CallbackURL string
	// TokenSecret, when set, signs a per-job callback token.
	TokenSecret string
	TokenTTL    time.Duration
	// Twilio credentials shipped to the worker for the outbound send.
	Twilio model.TwilioCredentials
}

// Dispatcher builds and submits job payloads. It never waits for job
// completion and never retries a failed submission.
type Dispatcher struct {
	publisher JobPublisher
	cfg       Config
	logger    *logger.Logger
}

// New creates a dispatcher.
func New(publisher JobPublisher, cfg Config, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		cfg:       cfg,
		logger:    log,
	}
}

// Dispatch packages one inbound message plus its prior transcript and
// submits it. Returns the dispatch id on success. When replyFrom is set
// (the To number of the inbound message) the worker replies from that
// number instead of the configured sender.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID, inboundText, replyFrom string, prior *model.Transcript) (string, error) {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "dispatch.submit")
	defer span.End()

	creds := d.cfg.Twilio
	if replyFrom != "" {
		creds.FromNumber = replyFrom
	}

	payload := model.JobPayload{
		ConversationID: conversationID,
		InboundText:    inboundText,
		CallbackURL:    d.cfg.CallbackURL,
		Twilio:         creds,
		Transcript:     prior,
	}

	if d.cfg.TokenSecret != "" {
		token, err := MintCallbackToken(d.cfg.TokenSecret, conversationID, d.cfg.TokenTTL)
		if err != nil {
			return "", err
		}
		payload.CallbackToken = token
	}

	data, err := BoundPayload(payload, PayloadCeiling)
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.PayloadBytes.Observe(float64(len(data)))

	dispatchID := NewDispatchID(conversationID)
	span.SetAttributes(
		attribute.String("dispatch.id", dispatchID),
		attribute.Int("dispatch.payload_bytes", len(data)),
	)

	if err := d.publisher.PublishJob(ctx, dispatchID, data); err != nil {
		metrics.DispatchesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("dispatch: submit failed: %w", err)
	}

	metrics.DispatchesTotal.WithLabelValues("ok").Inc()
	d.logger.Info("job dispatched",
		zap.String("dispatch_id", dispatchID),
		zap.String("conversation_id", conversationID),
		zap.Int("payload_bytes", len(data)),
	)
	return dispatchID, nil
}

// BoundPayload serializes the payload, applying the truncate-oldest
// policy when the prior transcript pushes it over the ceiling: items are
// dropped from the front, one at a time, until the whole payload fits
// under ceiling minus the safety margin. Recency dominates relevance for
// reply generation, so the oldest turns are the ones sacrificed.
func BoundPayload(payload model.JobPayload, ceiling int) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch: marshal payload: %w", err)
	}
	if len(data) <= ceiling || payload.Transcript == nil {
		return data, nil
	}

	items := payload.Transcript.Items
	dropped := 0
	for len(items) > 0 && len(data) > ceiling-SafetyMargin {
		items = items[1:]
		dropped++
		trimmed := model.Transcript{Items: items}
		payload.Transcript = &trimmed
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("dispatch: marshal payload: %w", err)
		}
	}

	metrics.TruncatedItems.Add(float64(dropped))
	logger.Global().Warn("transcript truncated to fit payload ceiling",
		zap.String("conversation_id", payload.ConversationID),
		zap.Int("dropped_items", dropped),
		zap.Int("remaining_items", len(items)),
		zap.Int("payload_bytes", len(data)),
	)
	return data, nil
}

// NewDispatchID derives a globally unique, traceable work unit id from
// the conversation id plus a random suffix.
func NewDispatchID(conversationID string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, conversationID)

	u := uuid.New()
	return fmt.Sprintf("sms-%s-%s", digits, hex.EncodeToString(u[:4]))
}
