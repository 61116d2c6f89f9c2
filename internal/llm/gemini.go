package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// GeminiClient implements Client on the Google GenAI SDK using function
// declarations for tool-constrained output.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Invoke makes one generation round trip. When tools are given, the first
// function call in the response becomes the tool call.
func (c *GeminiClient) Invoke(ctx context.Context, systemPrompt string, messages []Message, tools []ToolSchema) (*Result, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		contents = append(contents, genai.NewContentFromText(m.Content, geminiRole(m.Role)))
	}

	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToGenai(t.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &InvocationError{Reason: "empty response"}
	}

	out := &Result{}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Text += part.Text
		}
		if part.FunctionCall != nil && out.ToolCall == nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, &InvocationError{Reason: fmt.Sprintf("unencodable function args: %v", err)}
			}
			out.ToolCall = &ToolCall{Name: part.FunctionCall.Name, Args: args}
		}
	}
	return out, nil
}

// geminiRole maps the message role vocabulary onto the SDK's typed role.
// Anything that is not the assistant speaks as the user.
func geminiRole(role string) genai.Role {
	if role == RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// schemaToGenai converts our JSON-Schema-like map into the SDK's typed
// schema. Unknown constructs degrade to plain strings.
func schemaToGenai(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	switch m["type"] {
	case "object":
		s.Type = genai.TypeObject
		if props, ok := m["properties"].(map[string]any); ok {
			s.Properties = make(map[string]*genai.Schema, len(props))
			for k, v := range props {
				if pm, ok := v.(map[string]any); ok {
					s.Properties[k] = schemaToGenai(pm)
				}
			}
		}
		if req, ok := m["required"].([]string); ok {
			s.Required = req
		}
	case "array":
		s.Type = genai.TypeArray
		if items, ok := m["items"].(map[string]any); ok {
			s.Items = schemaToGenai(items)
		}
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	default:
		s.Type = genai.TypeString
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := m["enum"].([]string); ok {
		s.Enum = enum
	}
	return s
}
