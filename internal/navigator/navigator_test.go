package navigator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siphon/internal/llm"
)

// fakeClient answers every Invoke with a canned result and records what it
// was asked.
type fakeClient struct {
	result *llm.Result
	err    error

	gotSystem string
	gotUser   string
	gotTools  []llm.ToolSchema
}

func (f *fakeClient) Invoke(ctx context.Context, system string, messages []llm.Message, tools []llm.ToolSchema) (*llm.Result, error) {
	f.gotSystem = system
	if len(messages) > 0 {
		f.gotUser = messages[len(messages)-1].Content
	}
	f.gotTools = tools
	return f.result, f.err
}

func toolCall(t *testing.T, name string, args map[string]any) *llm.Result {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return &llm.Result{ToolCall: &llm.ToolCall{Name: name, Args: raw}}
}

func TestDiscoverBindings(t *testing.T) {
	fc := &fakeClient{result: toolCall(t, "set_bindings", map[string]any{
		"LIST":            ".job-list",
		"LIST_ITEM":       ".job-card",
		"PAGE_LOADED":     map[string]any{"exists": ".job-list"},
		"ITEM_ID":         map[string]any{"from": "attribute", "pattern": "data-job-id"},
		"SCROLL_BEHAVIOR": "infinite",
		"CLICK_BEHAVIOR":  "inline",
	})}
	n := New(fc, nil)

	d := n.DiscoverBindings(context.Background(), "https://example.com/jobs*", "[0]<ul class=job-list>")
	require.True(t, d.Success, d.Err)
	require.NotNil(t, d.Bindings)

	assert.Equal(t, ".job-list", d.Bindings.List)
	assert.Equal(t, ".job-card", d.Bindings.ListItem)
	assert.Equal(t, "https://example.com/jobs*", d.Bindings.URLPattern)
	assert.NotEmpty(t, d.Bindings.ID)
	require.NotNil(t, d.Bindings.PageLoaded)
	assert.Equal(t, ".job-list", d.Bindings.PageLoaded.Exists)
	require.NotNil(t, d.Bindings.ItemID)
	assert.Equal(t, "data-job-id", d.Bindings.ItemID.Pattern)

	assert.Contains(t, fc.gotUser, "job-list", "page render must reach the model")
	require.Len(t, fc.gotTools, 1)
	assert.Equal(t, "set_bindings", fc.gotTools[0].Name)
}

func TestDiscoverBindings_InvalidRejected(t *testing.T) {
	// LIST_ITEM present but LIST missing fails required-argument checking
	// before validation even runs.
	fc := &fakeClient{result: toolCall(t, "set_bindings", map[string]any{
		"LIST_ITEM": ".card",
	})}
	d := New(fc, nil).DiscoverBindings(context.Background(), "p*", "render")
	assert.False(t, d.Success)
	assert.Nil(t, d.Bindings)
	assert.Contains(t, d.Err, "LIST")
}

func TestDiscoverBindings_BadItemIDNeverReturned(t *testing.T) {
	fc := &fakeClient{result: toolCall(t, "set_bindings", map[string]any{
		"LIST":      ".list",
		"LIST_ITEM": ".item",
		"ITEM_ID":   map[string]any{"from": "href", "pattern": "(unclosed"},
	})}
	d := New(fc, nil).DiscoverBindings(context.Background(), "p*", "render")
	assert.False(t, d.Success, "a binding set with an uncompilable href pattern must not escape discovery")
	assert.Contains(t, d.Err, "invalid")
}

func TestDiscoverBindings_ModelError(t *testing.T) {
	fc := &fakeClient{err: errors.New("rate limited")}
	d := New(fc, nil).DiscoverBindings(context.Background(), "p*", "render")
	assert.False(t, d.Success)
	assert.Contains(t, d.Err, "rate limited")
}

func TestFixBinding(t *testing.T) {
	fc := &fakeClient{result: toolCall(t, "fix_binding", map[string]any{
		"selector": ".posting-card",
	})}
	n := New(fc, nil)

	fix := n.FixBinding(context.Background(), "FOR_EACH_ITEM_IN_LIST", "LIST_ITEM",
		".job-card", "selector matched nothing", "[0]<li class=posting-card>")
	require.True(t, fix.Success, fix.Err)
	require.NotNil(t, fix.Patch)
	assert.Equal(t, ".posting-card", fix.Patch.ListItem)
	assert.Empty(t, fix.Patch.List, "a fix patches only the failing binding")

	for _, frag := range []string{"LIST_ITEM", ".job-card", "selector matched nothing", "posting-card"} {
		assert.Contains(t, fc.gotUser, frag)
	}
}

func TestFixBinding_ConditionBindings(t *testing.T) {
	fc := &fakeClient{result: toolCall(t, "fix_binding", map[string]any{"selector": ".spinner-done"})}
	fix := New(fc, nil).FixBinding(context.Background(), "WAIT_FOR", "PAGE_LOADED", ".old", "timeout", "render")
	require.True(t, fix.Success)
	require.NotNil(t, fix.Patch.PageLoaded)
	assert.Equal(t, ".spinner-done", fix.Patch.PageLoaded.Exists)
}

func TestFixBinding_UnknownBindingName(t *testing.T) {
	fc := &fakeClient{result: toolCall(t, "fix_binding", map[string]any{"selector": ".x"})}
	fix := New(fc, nil).FixBinding(context.Background(), "CMD", "SIDEBAR", ".old", "gone", "render")
	assert.False(t, fix.Success)
	assert.True(t, strings.Contains(fix.Err, "SIDEBAR"))
}

func TestFixBinding_NoToolCall(t *testing.T) {
	fc := &fakeClient{result: &llm.Result{Text: "I think the selector is .item"}}
	fix := New(fc, nil).FixBinding(context.Background(), "CMD", "LIST", ".old", "gone", "render")
	assert.False(t, fix.Success, "free text is not a usable fix")
}
