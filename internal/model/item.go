// Package model defines data structures for the SMS context relay.
package model

import (
	"fmt"
)

// ItemType discriminates the kinds of transcript items.
type ItemType string

const (
	ItemTypeMessage            ItemType = "message"
	ItemTypeFunctionCall       ItemType = "function_call"
	ItemTypeFunctionCallOutput ItemType = "function_call_output"
	ItemTypeHandoff            ItemType = "handoff"
)

// Role represents the role of a message item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Item is one element of a conversation transcript. The Type tag decides
// which fields are meaningful:
//
//   - message: Role + Content
//   - function_call: Name + CallID + Arguments
//   - function_call_output: CallID + Output
//   - handoff: no payload, a transient marker between agents
type Item struct {
	Type ItemType `json:"type"`

	// message fields
	Role    Role   `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// tool-call fields
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// NewMessage builds a message item.
func NewMessage(role Role, content string) Item {
	return Item{Type: ItemTypeMessage, Role: role, Content: content}
}

// NewFunctionCall builds a function_call item.
func NewFunctionCall(callID, name, arguments string) Item {
	return Item{Type: ItemTypeFunctionCall, CallID: callID, Name: name, Arguments: arguments}
}

// NewFunctionCallOutput builds a function_call_output item.
func NewFunctionCallOutput(callID, output string) Item {
	return Item{Type: ItemTypeFunctionCallOutput, CallID: callID, Output: output}
}

// NewHandoff builds a handoff marker item.
func NewHandoff() Item {
	return Item{Type: ItemTypeHandoff}
}

// Validate checks that the item carries a known type tag and the fields
// that type requires.
func (i Item) Validate() error {
	switch i.Type {
	case ItemTypeMessage:
		switch i.Role {
		case RoleUser, RoleAssistant, RoleSystem:
			return nil
		default:
			return fmt.Errorf("message item has invalid role %q", i.Role)
		}
	case ItemTypeFunctionCall:
		if i.Name == "" {
			return fmt.Errorf("function_call item missing name")
		}
		return nil
	case ItemTypeFunctionCallOutput:
		if i.CallID == "" {
			return fmt.Errorf("function_call_output item missing call_id")
		}
		return nil
	case ItemTypeHandoff:
		return nil
	default:
		return fmt.Errorf("unknown item type %q", i.Type)
	}
}
