// Package backend defines the boundary between iris and a vision capable
// chat model. Each provider lives in its own internal package and is chosen
// once at process start.
package backend

import (
	"context"
	"encoding/json"

	"github.com/chriskillpack/iris/media"
)

type Role string

const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleToolResults Role = "tool_results"
)

// StopReason is why the model stopped generating. Providers map their own
// values onto StopEndTurn and StopToolUse; anything else is passed through
// verbatim so callers can report it.
type StopReason string

const (
	StopEndTurn StopReason = "end_turn"
	StopToolUse StopReason = "tool_use"
)

// ActionRequest is a single action invocation requested by the model. ID is
// issued by the provider and must be echoed in the matching ActionResult.
type ActionRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ArgumentsJSON returns the arguments as a JSON object, "{}" when empty.
func (ar ActionRequest) ArgumentsJSON() json.RawMessage {
	if len(ar.Arguments) == 0 {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(ar.Arguments)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

type ActionResult struct {
	RequestID string
	Output    string
	IsError   bool
}

// Turn is one entry in a conversation. Which fields are populated depends on
// Role: user turns carry Text and optionally Image, assistant turns carry
// Text and/or Requests, tool result turns carry Results.
type Turn struct {
	Role     Role
	Text     string
	Image    *media.Image
	Requests []ActionRequest
	Results  []ActionResult
}

func UserTurn(text string, img *media.Image) Turn {
	return Turn{Role: RoleUser, Text: text, Image: img}
}

func AssistantTurn(text string, requests []ActionRequest) Turn {
	return Turn{Role: RoleAssistant, Text: text, Requests: requests}
}

func ResultsTurn(results []ActionResult) Turn {
	return Turn{Role: RoleToolResults, Results: results}
}

// Tool advertises an action to the model. InputSchema is a JSON Schema
// object with "properties" and "required".
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

type Request struct {
	Model     string // empty selects the backend default
	MaxTokens int
	System    string
	Turns     []Turn
	Tools     []Tool
}

type Response struct {
	Stop     StopReason
	Text     string
	Requests []ActionRequest
}

// Backend sends a conversation to a model and returns its next turn.
type Backend interface {
	// Name returns the provider name, e.g. "anthropic" or "llama".
	Name() string

	// Send returns the model's response to the conversation in req. The
	// provided ctx is used as the parent context for the request to the
	// provider.
	Send(ctx context.Context, req Request) (*Response, error)
}

// HealthChecker is implemented by backends that can cheaply report whether
// their server is reachable.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}
