// Package handler provides the relay's HTTP endpoints.
package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/relaystack/sms-relay/internal/model"
	"github.com/relaystack/sms-relay/internal/store"
	"github.com/relaystack/sms-relay/pkg/logger"
	"github.com/relaystack/sms-relay/pkg/metrics"
)

// Submitter dispatches one inbound message as a job. *dispatch.Dispatcher
// satisfies it.
type Submitter interface {
	Dispatch(ctx context.Context, conversationID, inboundText, replyFrom string, prior *model.Transcript) (string, error)
}

// WebhookHandler receives inbound SMS notifications from Twilio.
type WebhookHandler struct {
	store      *store.ContextStore
	dispatcher Submitter
	logger     *logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(s *store.ContextStore, d Submitter, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		store:      s,
		dispatcher: d,
		logger:     log,
	}
}

// Receive handles POST /webhook/twilio/receive. The handler loads prior
// context and hands off to the dispatcher; the agent turn itself runs in
// a worker job so this path stays fast and non-blocking.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	from := r.PostFormValue("From")
	to := r.PostFormValue("To")
	body := r.PostFormValue("Body")

	if from == "" || body == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	metrics.MessagesReceived.Inc()
	h.logger.Info("incoming SMS",
		zap.String("from", from),
		zap.Int("body_len", len(body)),
	)

	var prior *model.Transcript
	if rec, ok := h.store.Get(from); ok {
		t := rec.Transcript
		prior = &t
		h.logger.Info("loaded history",
			zap.String("from", from),
			zap.Int("items", t.Len()),
		)
	}

	dispatchID, err := h.dispatcher.Dispatch(r.Context(), from, body, to, prior)
	if err != nil {
		h.logger.Error("dispatch failed",
			zap.String("from", from),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Failed to dispatch agent")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "dispatched",
		"dispatch_id": dispatchID,
		"message":     "Agent dispatched to process SMS",
	})
}
