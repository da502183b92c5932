// Package worker executes dispatched conversation-turn jobs.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/relaystack/sms-relay/internal/agent"
	"github.com/relaystack/sms-relay/internal/model"
	"github.com/relaystack/sms-relay/internal/twilio"
	"github.com/relaystack/sms-relay/pkg/logger"
	"github.com/relaystack/sms-relay/pkg/metrics"
)

// Turner runs one conversation turn. *agent.Agent satisfies it.
type Turner interface {
	Run(ctx context.Context, in agent.TurnInput) (agent.TurnOutcome, error)
}

// Processor handles one job payload end to end: restore transcript, run
// the turn, apply the fallback-send policy, merge, and report completion.
type Processor struct {
	agent  Turner
	logger *logger.Logger

	// newSender builds the outbound channel from the credentials shipped
	// in the payload. Replaced in tests.
	newSender func(model.TwilioCredentials) agent.Sender

	http *http.Client
}

// NewProcessor creates a processor.
func NewProcessor(turner Turner, log *logger.Logger) *Processor {
	return &Processor{
		agent:  turner,
		logger: log,
		newSender: func(creds model.TwilioCredentials) agent.Sender {
			return twilio.NewClient(creds, log)
		},
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Process executes one job. Malformed payloads abort the job with an
// error; everything after a successful decode ends in a completion
// callback attempt, whatever the turn outcome, so context is never
// silently lost on agent error.
func (p *Processor) Process(ctx context.Context, data []byte) error {
	var payload model.JobPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("worker: invalid job payload: %w", err)
	}
	if payload.ConversationID == "" || payload.InboundText == "" {
		return errors.New("worker: job payload missing conversation_id or inbound_text")
	}

	ctx, span := otel.Tracer("worker").Start(ctx, "worker.turn")
	span.SetAttributes(attribute.String("conversation_id", payload.ConversationID))
	defer span.End()

	log := p.logger.WithConversation(payload.ConversationID)
	log.Info("processing inbound message", zap.Int("inbound_len", len(payload.InboundText)))

	prior := model.Transcript{}
	if payload.Transcript != nil {
		prior = *payload.Transcript
		log.Info("restored history", zap.Int("items", prior.Len()))
	}

	sender := p.newSender(payload.Twilio)
	start := time.Now()

	outcome, err := p.agent.Run(ctx, agent.TurnInput{
		ConversationID: payload.ConversationID,
		InboundText:    payload.InboundText,
		ReplyFrom:      payload.Twilio.FromNumber,
		Prior:          prior,
		Sender:         sender,
	})
	if err != nil {
		log.Error("agent turn failed", zap.Error(err))
	}

	result := outcome.Result
	if result == nil {
		result = p.fallback(ctx, payload, outcome.NewItems, sender, log)
	}
	metrics.RecordTurn(string(result.Action), time.Since(start).Seconds())

	merged := model.Merge(prior, model.Transcript{Items: outcome.NewItems}).WithoutHandoffs()
	stats := merged.Summarize()
	log.Info("turn complete",
		zap.String("action", string(result.Action)),
		zap.Int("items", stats.Items),
		zap.Int("user_messages", stats.UserMessages),
		zap.Int("tool_calls", stats.ToolCalls),
	)

	p.reportCompletion(ctx, payload, merged, result, log)
	return nil
}

// fallback implements the guarantee that a user is never silently
// ignored when the model produced a coherent reply: if the turn ended
// without send or skip but left a plain assistant utterance, send that
// utterance verbatim.
func (p *Processor) fallback(ctx context.Context, payload model.JobPayload, newItems []model.Item, sender agent.Sender, log *logger.Logger) *model.TurnResult {
	for i := len(newItems) - 1; i >= 0; i-- {
		item := newItems[i]
		if item.Type != model.ItemTypeMessage || item.Role != model.RoleAssistant || item.Content == "" {
			continue
		}

		log.Info("fallback: sending trailing assistant message", zap.Int("len", len(item.Content)))
		if _, err := sender.SendMessage(ctx, payload.Twilio.FromNumber, payload.ConversationID, item.Content); err != nil {
			log.Error("fallback send failed", zap.Error(err))
			return &model.TurnResult{Action: model.ActionError, Reason: err.Error()}
		}
		return &model.TurnResult{Action: model.ActionSent, Message: item.Content}
	}

	log.Error("no output from agent")
	return &model.TurnResult{Action: model.ActionError, Reason: "No output from agent"}
}

// reportCompletion POSTs the merged transcript and result to the
// dispatcher. Failures are logged, never retried; the context update is
// at-most-once.
func (p *Processor) reportCompletion(ctx context.Context, payload model.JobPayload, transcript model.Transcript, result *model.TurnResult, log *logger.Logger) {
	if payload.CallbackURL == "" {
		log.Warn("no callback URL in payload, skipping context update")
		return
	}

	report := model.CompletionReport{
		ConversationID: payload.ConversationID,
		Transcript:     &transcript,
		Result:         result,
	}
	body, err := json.Marshal(report)
	if err != nil {
		log.Error("failed to marshal completion report", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.CallbackURL, bytes.NewReader(body))
	if err != nil {
		log.Error("failed to build completion request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if payload.CallbackToken != "" {
		req.Header.Set("Authorization", "Bearer "+payload.CallbackToken)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		log.Error("completion callback failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		log.Error("completion callback rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
		)
		return
	}

	log.Info("context update posted", zap.String("callback_url", payload.CallbackURL))
}
