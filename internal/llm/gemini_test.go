package llm

import (
	"testing"

	"google.golang.org/genai"
)

func TestGeminiRoleMapping(t *testing.T) {
	cases := []struct {
		role string
		want genai.Role
	}{
		{RoleUser, genai.RoleUser},
		{RoleAssistant, genai.RoleModel},
		{"tool", genai.RoleUser}, // unknown roles speak as the user
	}
	for _, c := range cases {
		if got := geminiRole(c.role); got != c.want {
			t.Errorf("geminiRole(%q) = %q, want %q", c.role, got, c.want)
		}
	}
}

func TestSchemaToGenaiShapes(t *testing.T) {
	s := schemaToGenai(ObjectSchema(map[string]any{
		"action": EnumProp("what to do", "click", "scroll"),
		"index":  map[string]any{"type": "integer"},
	}, "action"))
	if s.Type != genai.TypeObject {
		t.Fatalf("type = %v", s.Type)
	}
	if got := s.Properties["action"]; got == nil || len(got.Enum) != 2 {
		t.Errorf("enum property = %+v", got)
	}
	if got := s.Properties["index"]; got == nil || got.Type != genai.TypeInteger {
		t.Errorf("integer property = %+v", got)
	}
	if len(s.Required) != 1 || s.Required[0] != "action" {
		t.Errorf("required = %v", s.Required)
	}
}
