package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaystack/sms-relay/internal/agent"
	"github.com/relaystack/sms-relay/internal/model"
	"github.com/relaystack/sms-relay/pkg/logger"
)

type stubTurner struct {
	outcome agent.TurnOutcome
	err     error
	input   agent.TurnInput
}

func (s *stubTurner) Run(_ context.Context, in agent.TurnInput) (agent.TurnOutcome, error) {
	s.input = in
	return s.outcome, s.err
}

type countingSender struct {
	body  string
	err   error
	calls int
}

func (c *countingSender) SendMessage(_ context.Context, _, _, body string) (string, error) {
	c.calls++
	c.body = body
	if c.err != nil {
		return "", c.err
	}
	return "SM1", nil
}

// callbackCapture runs an httptest server capturing the completion report.
type callbackCapture struct {
	server *httptest.Server
	report *model.CompletionReport
	auth   string
	hits   int
}

func newCallbackCapture(t *testing.T) *callbackCapture {
	t.Helper()
	c := &callbackCapture{}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.hits++
		c.auth = r.Header.Get("Authorization")
		var report model.CompletionReport
		require.NoError(t, json.NewDecoder(r.Body).Decode(&report))
		c.report = &report
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(c.server.Close)
	return c
}

func newTestProcessor(turner Turner, sender agent.Sender) *Processor {
	p := NewProcessor(turner, logger.NewNop())
	p.newSender = func(model.TwilioCredentials) agent.Sender { return sender }
	return p
}

func marshalPayload(t *testing.T, payload model.JobPayload) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return data
}

func TestProcessFreshConversation(t *testing.T) {
	cb := newCallbackCapture(t)
	turner := &stubTurner{outcome: agent.TurnOutcome{
		NewItems: []model.Item{
			model.NewMessage(model.RoleUser, "hi"),
			model.NewFunctionCall("c1", "send_sms", `{"message":"hello!"}`),
			model.NewFunctionCallOutput("c1", "sent"),
		},
		Result: &model.TurnResult{Action: model.ActionSent, Message: "hello!"},
	}}
	sender := &countingSender{}
	p := newTestProcessor(turner, sender)

	err := p.Process(context.Background(), marshalPayload(t, model.JobPayload{
		ConversationID: "+15551230000",
		InboundText:    "hi",
		CallbackURL:    cb.server.URL,
	}))
	require.NoError(t, err)

	require.Equal(t, 1, cb.hits)
	require.Equal(t, "+15551230000", cb.report.ConversationID)
	require.Equal(t, model.ActionSent, cb.report.Result.Action)

	// No prior record: the first saved item is the user's inbound text.
	first := cb.report.Transcript.Items[0]
	require.Equal(t, model.RoleUser, first.Role)
	require.Equal(t, "hi", first.Content)

	// Terminal action came from the tool, no fallback send.
	require.Zero(t, sender.calls)
}

func TestProcessMergesPriorBeforeNew(t *testing.T) {
	cb := newCallbackCapture(t)
	prior := model.Transcript{Items: []model.Item{
		model.NewMessage(model.RoleUser, "old question"),
		model.NewMessage(model.RoleAssistant, "old answer"),
	}}
	turner := &stubTurner{outcome: agent.TurnOutcome{
		NewItems: []model.Item{model.NewMessage(model.RoleUser, "new question")},
		Result:   &model.TurnResult{Action: model.ActionSkipped, Reason: "spam"},
	}}
	p := newTestProcessor(turner, &countingSender{})

	err := p.Process(context.Background(), marshalPayload(t, model.JobPayload{
		ConversationID: "+15551230000",
		InboundText:    "new question",
		CallbackURL:    cb.server.URL,
		Transcript:     &prior,
	}))
	require.NoError(t, err)

	items := cb.report.Transcript.Items
	require.Len(t, items, 3)
	require.Equal(t, "old question", items[0].Content)
	require.Equal(t, "old answer", items[1].Content)
	require.Equal(t, "new question", items[2].Content)

	// The prior transcript was handed to the agent.
	require.Equal(t, prior.Items, turner.input.Prior.Items)
}

func TestProcessSkipRecordsUserTurnWithoutSend(t *testing.T) {
	cb := newCallbackCapture(t)
	turner := &stubTurner{outcome: agent.TurnOutcome{
		NewItems: []model.Item{
			model.NewMessage(model.RoleUser, "STOP"),
			model.NewFunctionCall("c1", "skip_response", `{"reason":"opt-out"}`),
			model.NewFunctionCallOutput("c1", "skipped"),
		},
		Result: &model.TurnResult{Action: model.ActionSkipped, Reason: "opt-out"},
	}}
	sender := &countingSender{}
	p := newTestProcessor(turner, sender)

	err := p.Process(context.Background(), marshalPayload(t, model.JobPayload{
		ConversationID: "+15551230000",
		InboundText:    "STOP",
		CallbackURL:    cb.server.URL,
	}))
	require.NoError(t, err)

	require.Zero(t, sender.calls)
	require.Equal(t, model.ActionSkipped, cb.report.Result.Action)
	require.Equal(t, "STOP", cb.report.Transcript.Items[0].Content)
}

func TestProcessFallbackSendsTrailingAssistantText(t *testing.T) {
	cb := newCallbackCapture(t)
	// Agent produced plain text but called neither send nor skip.
	turner := &stubTurner{outcome: agent.TurnOutcome{
		NewItems: []model.Item{
			model.NewMessage(model.RoleUser, "hi"),
			model.NewMessage(model.RoleAssistant, "Hey there!"),
		},
	}}
	sender := &countingSender{}
	p := newTestProcessor(turner, sender)

	err := p.Process(context.Background(), marshalPayload(t, model.JobPayload{
		ConversationID: "+15551230000",
		InboundText:    "hi",
		CallbackURL:    cb.server.URL,
	}))
	require.NoError(t, err)

	require.Equal(t, 1, sender.calls)
	require.Equal(t, "Hey there!", sender.body)
	require.Equal(t, model.ActionSent, cb.report.Result.Action)
	require.Equal(t, "Hey there!", cb.report.Result.Message)
}

func TestProcessFallbackSendFailureReportsError(t *testing.T) {
	cb := newCallbackCapture(t)
	turner := &stubTurner{outcome: agent.TurnOutcome{
		NewItems: []model.Item{
			model.NewMessage(model.RoleUser, "hi"),
			model.NewMessage(model.RoleAssistant, "Hey there!"),
		},
	}}
	sender := &countingSender{err: errors.New("HTTP 500: upstream")}
	p := newTestProcessor(turner, sender)

	err := p.Process(context.Background(), marshalPayload(t, model.JobPayload{
		ConversationID: "+15551230000",
		InboundText:    "hi",
		CallbackURL:    cb.server.URL,
	}))
	require.NoError(t, err)

	require.Equal(t, 1, sender.calls)
	require.Equal(t, model.ActionError, cb.report.Result.Action)
}

func TestProcessNoOutputFromAgent(t *testing.T) {
	cb := newCallbackCapture(t)
	turner := &stubTurner{
		outcome: agent.TurnOutcome{NewItems: []model.Item{model.NewMessage(model.RoleUser, "hi")}},
		err:     errors.New("completion failed"),
	}
	sender := &countingSender{}
	p := newTestProcessor(turner, sender)

	err := p.Process(context.Background(), marshalPayload(t, model.JobPayload{
		ConversationID: "+15551230000",
		InboundText:    "hi",
		CallbackURL:    cb.server.URL,
	}))
	require.NoError(t, err)

	// Context still reaches the callback even on agent error.
	require.Equal(t, 1, cb.hits)
	require.Equal(t, model.ActionError, cb.report.Result.Action)
	require.Equal(t, "No output from agent", cb.report.Result.Reason)
	require.Zero(t, sender.calls)
}

func TestProcessStripsHandoffItems(t *testing.T) {
	cb := newCallbackCapture(t)
	turner := &stubTurner{outcome: agent.TurnOutcome{
		NewItems: []model.Item{
			model.NewMessage(model.RoleUser, "hi"),
			model.NewHandoff(),
			model.NewMessage(model.RoleAssistant, "hello"),
		},
	}}
	p := newTestProcessor(turner, &countingSender{})

	err := p.Process(context.Background(), marshalPayload(t, model.JobPayload{
		ConversationID: "+15551230000",
		InboundText:    "hi",
		CallbackURL:    cb.server.URL,
	}))
	require.NoError(t, err)

	for _, item := range cb.report.Transcript.Items {
		require.NotEqual(t, model.ItemTypeHandoff, item.Type)
	}
}

func TestProcessForwardsCallbackToken(t *testing.T) {
	cb := newCallbackCapture(t)
	turner := &stubTurner{outcome: agent.TurnOutcome{
		NewItems: []model.Item{model.NewMessage(model.RoleUser, "hi")},
		Result:   &model.TurnResult{Action: model.ActionSkipped},
	}}
	p := newTestProcessor(turner, &countingSender{})

	err := p.Process(context.Background(), marshalPayload(t, model.JobPayload{
		ConversationID: "+15551230000",
		InboundText:    "hi",
		CallbackURL:    cb.server.URL,
		CallbackToken:  "signed-token",
	}))
	require.NoError(t, err)
	require.Equal(t, "Bearer signed-token", cb.auth)
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	p := newTestProcessor(&stubTurner{}, &countingSender{})

	require.Error(t, p.Process(context.Background(), []byte("{not json")))
	require.Error(t, p.Process(context.Background(), marshalPayload(t, model.JobPayload{})))
}
