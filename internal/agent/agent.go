// Package agent runs one LLM-driven conversation turn over an SMS
// transcript.
//
// The model is constrained to three tools: send_sms and skip_response are
// terminal, get_weather feeds a result back into the loop. A turn that
// exhausts its step budget or ends in plain text is returned without a
// result; the caller decides whether the trailing assistant text is worth
// sending anyway.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/relaystack/sms-relay/internal/model"
	"github.com/relaystack/sms-relay/internal/twilio"
	"github.com/relaystack/sms-relay/pkg/logger"
)

// MaxToolSteps caps the number of tool-call round-trips in one turn.
const MaxToolSteps = 10

const instructions = `You are a friendly SMS assistant.

CRITICAL: You cannot reply directly. You MUST use the send_sms tool to send any response. Never just write text — always call send_sms with your message.

Tools:
- get_weather(city): Get weather info
- send_sms(message): Send reply to user — ALWAYS use this to respond
- skip_response(reason): Skip automated/spam messages only

When to skip (use skip_response):
- Carrier/voicemail notifications
- Marketing spam, "STOP" requests
- Auto-replies from systems

Style: friendly, casual, short (under 160 chars). No markdown.

REMEMBER: To reply, you must call send_sms(). Do not just write text.`

// ChatCompleter is the slice of the OpenAI client the agent uses.
// *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Sender sends an outbound SMS and returns the provider message id.
// *twilio.Client satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, from, to, body string) (string, error)
}

// WeatherLookup resolves current conditions for a city.
type WeatherLookup interface {
	CurrentByCity(ctx context.Context, city string) (string, error)
}

// Agent executes conversation turns.
type Agent struct {
	llm     ChatCompleter
	model   string
	weather WeatherLookup
	logger  *logger.Logger
}

// New creates an agent.
func New(llm ChatCompleter, modelName string, weather WeatherLookup, log *logger.Logger) *Agent {
	return &Agent{
		llm:     llm,
		model:   modelName,
		weather: weather,
		logger:  log,
	}
}

// TurnInput describes one inbound message to process.
type TurnInput struct {
	ConversationID string
	InboundText    string
	// ReplyFrom is the sender address for outbound replies.
	ReplyFrom string
	Prior     model.Transcript
	Sender    Sender
}

// TurnOutcome is what one turn produced. Result is nil when the model
// invoked neither terminal tool within the step budget.
type TurnOutcome struct {
	NewItems []model.Item
	Result   *model.TurnResult
}

// Run executes exactly one conversation turn. The inbound user message is
// always the first new item, so it is recorded even when the turn ends in
// a skip or an error.
func (a *Agent) Run(ctx context.Context, in TurnInput) (TurnOutcome, error) {
	out := TurnOutcome{
		NewItems: []model.Item{model.NewMessage(model.RoleUser, in.InboundText)},
	}

	messages := a.seedMessages(in.Prior, in.InboundText)

	for step := 0; step < MaxToolSteps; step++ {
		resp, err := a.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    toolDefinitions(),
		})
		if err != nil {
			return out, fmt.Errorf("agent: completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return out, errors.New("agent: completion returned no choices")
		}

		choice := resp.Choices[0].Message

		if len(choice.ToolCalls) == 0 {
			// Model stopped calling tools. Record any trailing text for
			// the caller's fallback and end the turn.
			if choice.Content != "" {
				out.NewItems = append(out.NewItems, model.NewMessage(model.RoleAssistant, choice.Content))
			}
			return out, nil
		}

		messages = append(messages, choice)

		for _, call := range choice.ToolCalls {
			output, result := a.invokeTool(ctx, in, call)

			out.NewItems = append(out.NewItems,
				model.NewFunctionCall(call.ID, call.Function.Name, call.Function.Arguments),
				model.NewFunctionCallOutput(call.ID, output),
			)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})

			if result != nil {
				out.Result = result
				return out, nil
			}
		}
	}

	a.logger.Warn("agent exhausted tool step budget without a terminal action",
		zap.String("conversation_id", in.ConversationID),
		zap.Int("max_steps", MaxToolSteps),
	)
	return out, nil
}

// invokeTool executes one tool call. A non-nil result ends the turn.
func (a *Agent) invokeTool(ctx context.Context, in TurnInput, call openai.ToolCall) (string, *model.TurnResult) {
	switch call.Function.Name {
	case "send_sms":
		var args struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || args.Message == "" {
			return "invalid send_sms arguments", &model.TurnResult{
				Action: model.ActionError,
				Reason: "invalid send_sms arguments",
			}
		}

		sid, err := in.Sender.SendMessage(ctx, in.ReplyFrom, in.ConversationID, args.Message)
		if err != nil {
			reason := err.Error()
			if errors.Is(err, twilio.ErrNotConfigured) {
				reason = "Twilio not configured"
			}
			a.logger.Error("send_sms failed",
				zap.String("conversation_id", in.ConversationID),
				zap.Error(err),
			)
			return "send failed: " + reason, &model.TurnResult{
				Action: model.ActionError,
				Reason: reason,
			}
		}

		a.logger.Info("SMS sent",
			zap.String("conversation_id", in.ConversationID),
			zap.String("message_sid", sid),
		)
		return "sent", &model.TurnResult{
			Action:  model.ActionSent,
			Message: args.Message,
		}

	case "skip_response":
		var args struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
		a.logger.Info("skipping response",
			zap.String("conversation_id", in.ConversationID),
			zap.String("reason", args.Reason),
		)
		return "skipped", &model.TurnResult{
			Action: model.ActionSkipped,
			Reason: args.Reason,
		}

	case "get_weather":
		var args struct {
			City string `json:"city"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || args.City == "" {
			return "invalid get_weather arguments", nil
		}
		report, err := a.weather.CurrentByCity(ctx, args.City)
		if err != nil {
			return "weather lookup failed: " + err.Error(), nil
		}
		return report, nil

	default:
		return fmt.Sprintf("unknown tool %q", call.Function.Name), nil
	}
}

// seedMessages converts the prior transcript plus the inbound text into
// the chat-completion message list. Handoff markers carry no content and
// are skipped.
func (a *Agent) seedMessages(prior model.Transcript, inbound string) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: instructions},
	}

	for _, item := range prior.Items {
		switch item.Type {
		case model.ItemTypeMessage:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    string(item.Role),
				Content: item.Content,
			})
		case model.ItemTypeFunctionCall:
			messages = append(messages, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   item.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      item.Name,
						Arguments: item.Arguments,
					},
				}},
			})
		case model.ItemTypeFunctionCallOutput:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    item.Output,
				ToolCallID: item.CallID,
			})
		case model.ItemTypeHandoff:
		}
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: inbound,
	})
	return messages
}

func toolDefinitions() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "send_sms",
				Description: "Send an SMS reply to the user.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"message": {
							Type:        jsonschema.String,
							Description: "The reply text to send",
						},
					},
					Required: []string{"message"},
				},
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "skip_response",
				Description: "Skip responding to this message. Use only for spam, carrier notifications, or opt-out requests.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"reason": {
							Type:        jsonschema.String,
							Description: "Why the message is being skipped",
						},
					},
					Required: []string{"reason"},
				},
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "get_weather",
				Description: "Get current weather for a city.",
				Parameters: jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"city": {
							Type:        jsonschema.String,
							Description: "City name",
						},
					},
					Required: []string{"city"},
				},
			},
		},
	}
}
