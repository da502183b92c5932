package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/relaystack/sms-relay/internal/dispatch"
	"github.com/relaystack/sms-relay/internal/model"
	"github.com/relaystack/sms-relay/internal/store"
	"github.com/relaystack/sms-relay/pkg/logger"
)

// CompleteHandler receives worker completion callbacks and persists the
// updated transcript.
type CompleteHandler struct {
	store       *store.ContextStore
	tokenSecret string
	logger      *logger.Logger
}

// NewCompleteHandler creates a completion handler. When tokenSecret is
// empty the callback token check is skipped.
func NewCompleteHandler(s *store.ContextStore, tokenSecret string, log *logger.Logger) *CompleteHandler {
	return &CompleteHandler{
		store:       s,
		tokenSecret: tokenSecret,
		logger:      log,
	}
}

// Complete handles POST /webhook/agent/complete. Receipt is always
// acknowledged once the conversation id checks out; a store failure is
// logged, not retried, and not surfaced to the worker.
func (h *CompleteHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var report model.CompletionReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if report.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "Missing conversation_id")
		return
	}

	if h.tokenSecret != "" {
		if !h.authorized(r, report.ConversationID) {
			writeError(w, http.StatusUnauthorized, "invalid callback token")
			return
		}
	}

	action := "unknown"
	if report.Result != nil {
		action = string(report.Result.Action)
	}
	h.logger.Info("agent completed",
		zap.String("conversation_id", report.ConversationID),
		zap.String("action", action),
	)

	if report.Transcript != nil {
		// Full overwrite: a concurrently-running job for the same id that
		// saved earlier loses its update here. Documented last-write-wins.
		if err := h.store.Save(report.ConversationID, *report.Transcript); err != nil {
			h.logger.Error("failed to save context",
				zap.String("conversation_id", report.ConversationID),
				zap.Error(err),
			)
		} else {
			h.logger.Info("context saved",
				zap.String("conversation_id", report.ConversationID),
				zap.Int("items", report.Transcript.Len()),
			)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Context saved",
	})
}

func (h *CompleteHandler) authorized(r *http.Request, conversationID string) bool {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return false
	}

	subject, err := dispatch.VerifyCallbackToken(h.tokenSecret, parts[1])
	if err != nil {
		h.logger.Warn("callback token rejected", zap.Error(err))
		return false
	}
	return subject == conversationID
}
