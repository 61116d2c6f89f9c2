// Package llm abstracts the language model behind a single structured
// invocation: prompt in, optionally tool-constrained object out. The core
// validates tool-call arguments itself rather than trusting the provider.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role values for conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSchema describes one structured output the model may produce. The
// Parameters map is a JSON-Schema-like object description: type,
// properties, required.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is the model's structured answer.
type ToolCall struct {
	Name string
	Args json.RawMessage
}

// Result is the outcome of one invocation: free text, a tool call, or both.
type Result struct {
	Text     string
	ToolCall *ToolCall
}

// Client is the provider-independent model interface. Implementations make
// exactly one provider round trip per Invoke.
type Client interface {
	Invoke(ctx context.Context, systemPrompt string, messages []Message, tools []ToolSchema) (*Result, error)
}

// InvocationError reports a malformed or absent structured answer. Callers
// fall back to a safe default action instead of aborting.
type InvocationError struct {
	Reason string
	Raw    string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("model invocation failed: %s", e.Reason)
}

// ObjectSchema is a shorthand for the JSON-Schema object descriptions used
// at every call site.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// StringProp describes a plain string property.
func StringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// EnumProp describes a string property restricted to fixed values.
func EnumProp(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

// RequiredArgs checks a tool call's arguments against the schema's
// required list and decodes them into out. Schema validation happens here,
// in the core, not in the provider.
func RequiredArgs(call *ToolCall, schema ToolSchema, out any) error {
	if call == nil {
		return &InvocationError{Reason: "no tool call in response"}
	}
	if call.Name != schema.Name {
		return &InvocationError{Reason: fmt.Sprintf("unexpected tool %q, want %q", call.Name, schema.Name)}
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return &InvocationError{Reason: "arguments are not an object", Raw: string(call.Args)}
	}
	if req, ok := schema.Parameters["required"].([]string); ok {
		for _, k := range req {
			if _, present := args[k]; !present {
				return &InvocationError{Reason: fmt.Sprintf("missing required argument %q", k), Raw: string(call.Args)}
			}
		}
	}
	if err := json.Unmarshal(call.Args, out); err != nil {
		return &InvocationError{Reason: fmt.Sprintf("arguments do not decode: %v", err), Raw: string(call.Args)}
	}
	return nil
}
