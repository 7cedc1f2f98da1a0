package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// fakeConn is an in-memory Connection.
type fakeConn struct {
	tools   []mcptypes.Tool
	prompts map[string]string
	result  string

	mu     sync.Mutex
	calls  []string
	closed bool
}

func (c *fakeConn) ListTools(_ context.Context) ([]mcptypes.Tool, error) {
	return c.tools, nil
}

func (c *fakeConn) CallTool(_ context.Context, name string, _ map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	return c.result, nil
}

func (c *fakeConn) GetPrompt(_ context.Context, name string) (string, error) {
	if p, ok := c.prompts[name]; ok {
		return p, nil
	}
	return "", errors.New("no prompt")
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeConnector dials fakeConns and counts dials per provider.
type fakeConnector struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
	fail  map[string]bool
	dials map[string]int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		conns: make(map[string]*fakeConn),
		fail:  make(map[string]bool),
		dials: make(map[string]int),
	}
}

func (f *fakeConnector) connect(_ context.Context, provider ToolProvider, _ string) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials[provider.Name]++
	if f.fail[provider.Name] {
		return nil, fmt.Errorf("connection refused")
	}
	conn, ok := f.conns[provider.Name]
	if !ok {
		return nil, fmt.Errorf("no fake conn for %s", provider.Name)
	}
	return conn, nil
}

func (f *fakeConnector) dialCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials[name]
}

func simpleTool(name string) mcptypes.Tool {
	return mcptypes.Tool{
		Name: name,
		InputSchema: mcptypes.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}
}

func TestResolveToolsEmptySelection(t *testing.T) {
	connector := newFakeConnector()
	registry := NewRegistry([]ToolProvider{{Name: "Weather", URL: "http://w"}}, "Caddy",
		discardLogger(), WithConnector(connector.connect))

	tools, failed := registry.ResolveTools(context.Background(), nil, "")
	if tools != nil || failed != nil {
		t.Errorf("expected no tools and no failures, got %v / %v", tools, failed)
	}
	if connector.dialCount("Weather") != 0 {
		t.Error("expected no dials for empty selection")
	}
}

func TestResolveToolsCachesPerProvider(t *testing.T) {
	connector := newFakeConnector()
	connector.conns["Weather"] = &fakeConn{tools: []mcptypes.Tool{simpleTool("get_weather")}}

	registry := NewRegistry([]ToolProvider{{Name: "Weather", URL: "http://w"}}, "Caddy",
		discardLogger(), WithConnector(connector.connect))

	for i := 0; i < 3; i++ {
		tools, failed := registry.ResolveTools(context.Background(), []string{"Weather"}, "token")
		if len(failed) != 0 {
			t.Fatalf("unexpected failures: %v", failed)
		}
		if len(tools) != 1 || tools[0].Tool.Name != "get_weather" {
			t.Fatalf("unexpected tools: %+v", tools)
		}
	}

	if got := connector.dialCount("Weather"); got != 1 {
		t.Errorf("expected exactly 1 dial, got %d", got)
	}
}

func TestResolveToolsPartialFailure(t *testing.T) {
	connector := newFakeConnector()
	connector.conns["Weather"] = &fakeConn{tools: []mcptypes.Tool{simpleTool("get_weather")}}
	connector.fail["Broken"] = true

	registry := NewRegistry([]ToolProvider{
		{Name: "Weather", URL: "http://w"},
		{Name: "Broken", URL: "http://b"},
	}, "Caddy", discardLogger(), WithConnector(connector.connect))

	tools, failed := registry.ResolveTools(context.Background(), []string{"Weather", "Broken"}, "")

	if len(tools) != 1 || tools[0].Provider.Name != "Weather" {
		t.Errorf("expected Weather tools to survive, got %+v", tools)
	}
	if len(failed) != 1 || failed[0] != "Broken" {
		t.Errorf("expected Broken to be reported failed, got %v", failed)
	}
}

func TestResolveToolsExpandsAggregator(t *testing.T) {
	aggTool := simpleTool("search_legislation")
	aggTool.Description = "Search UK legislation"
	aggTool.Annotations = mcptypes.ToolAnnotation{Title: "Search Legislation"}

	aggConn := &fakeConn{
		tools:   []mcptypes.Tool{aggTool},
		prompts: map[string]string{"search_legislation": "Always cite the act and section."},
	}

	connector := newFakeConnector()
	connector.conns["Caddy"] = aggConn

	registry := NewRegistry([]ToolProvider{
		{Name: "Caddy", URL: "http://caddy", AccessToken: "caddy-token"},
	}, "Caddy", discardLogger(), WithConnector(connector.connect))

	tools, failed := registry.ResolveTools(context.Background(), []string{"Legislation"}, "user-token")

	if len(failed) != 0 {
		t.Fatalf("unexpected failures: %v", failed)
	}
	if len(tools) != 1 {
		t.Fatalf("expected 1 synthetic tool, got %d", len(tools))
	}

	synthetic := tools[0].Provider
	if synthetic.Name != "Legislation" {
		t.Errorf("expected annotation title with Search prefix stripped, got %q", synthetic.Name)
	}
	if synthetic.URL != "http://caddy" || synthetic.AccessToken != "caddy-token" {
		t.Errorf("synthetic provider should inherit aggregator endpoint, got %+v", synthetic)
	}
	if synthetic.Prompt != "Always cite the act and section." {
		t.Errorf("expected prompt enrichment, got %q", synthetic.Prompt)
	}
	if !aggConn.closed {
		t.Error("aggregator connection should be closed after expansion")
	}
}

func TestResolveToolsAggregatorNotCached(t *testing.T) {
	aggConn := &fakeConn{tools: []mcptypes.Tool{simpleTool("search_docs")}}
	connector := newFakeConnector()
	connector.conns["Caddy"] = aggConn

	registry := NewRegistry([]ToolProvider{
		{Name: "Caddy", URL: "http://caddy"},
	}, "Caddy", discardLogger(), WithConnector(connector.connect))

	registry.ResolveTools(context.Background(), []string{"search_docs"}, "a")
	registry.ResolveTools(context.Background(), []string{"search_docs"}, "b")

	if got := connector.dialCount("Caddy"); got != 2 {
		t.Errorf("aggregator should be dialled per request, got %d dials", got)
	}
}

func TestCallToolUsesCachedConnection(t *testing.T) {
	conn := &fakeConn{tools: []mcptypes.Tool{simpleTool("get_weather")}, result: "sunny"}
	connector := newFakeConnector()
	connector.conns["Weather"] = conn

	registry := NewRegistry([]ToolProvider{{Name: "Weather", URL: "http://w"}}, "Caddy",
		discardLogger(), WithConnector(connector.connect))

	tools, _ := registry.ResolveTools(context.Background(), []string{"Weather"}, "")
	result, err := registry.CallTool(context.Background(), tools[0], map[string]any{"city": "Oslo"}, "")
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result != "sunny" {
		t.Errorf("unexpected result: %q", result)
	}
	if got := connector.dialCount("Weather"); got != 1 {
		t.Errorf("expected cached connection to be reused, got %d dials", got)
	}
}

func TestCallToolDialsUncachedProvider(t *testing.T) {
	conn := &fakeConn{result: "found it"}
	connector := newFakeConnector()
	connector.conns["Legislation"] = conn

	registry := NewRegistry(nil, "Caddy", discardLogger(), WithConnector(connector.connect))

	descriptor := Descriptor{
		Tool:     simpleTool("search_legislation"),
		Provider: ToolProvider{Name: "Legislation", URL: "http://caddy"},
	}

	result, err := registry.CallTool(context.Background(), descriptor, nil, "token")
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result != "found it" {
		t.Errorf("unexpected result: %q", result)
	}
	if !conn.closed {
		t.Error("per-call connection should be closed")
	}
}
