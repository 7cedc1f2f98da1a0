package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Per-call authentication headers. The provider's static token travels
// under a provider-scoped header; the end user's bearer token is attached
// both raw (for origin-aware gateways) and as standard authorization.
const (
	headerProviderToken = "x-external-access-token"
	headerUserToken     = "x_amzn_oidc_accesstoken"
)

// One fallback hop only: streamable HTTP first, then SSE with a bounded
// connection timeout.
const sseFallbackTimeout = 3 * time.Second

const protocolVersion = "2025-06-18"

// Connection is a live, initialised session with one tool provider.
type Connection interface {
	ListTools(ctx context.Context) ([]mcptypes.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	GetPrompt(ctx context.Context, name string) (string, error)
	Close() error
}

// Connector dials one provider. The registry takes it as a dependency so
// tests can substitute an in-memory fake.
type Connector func(ctx context.Context, provider ToolProvider, userToken string) (Connection, error)

// Connect negotiates a session with the provider endpoint, preferring the
// streamable HTTP transport and falling back to SSE once. Unauthenticated
// connection is attempted when no tokens are configured.
func Connect(ctx context.Context, provider ToolProvider, userToken string) (Connection, error) {
	headers := buildHeaders(provider, userToken)

	conn, httpErr := dialStreamableHTTP(ctx, provider, headers)
	if httpErr == nil {
		return conn, nil
	}

	sseCtx, cancel := context.WithTimeout(ctx, sseFallbackTimeout)
	defer cancel()

	conn, sseErr := dialSSE(sseCtx, provider, headers)
	if sseErr != nil {
		return nil, fmt.Errorf("both transports failed for %s: streamable http: %v; sse: %w",
			provider.Name, httpErr, sseErr)
	}

	return conn, nil
}

func buildHeaders(provider ToolProvider, userToken string) map[string]string {
	headers := make(map[string]string)
	if provider.AccessToken != "" {
		headers[headerProviderToken] = provider.AccessToken
	}
	if userToken != "" {
		headers[headerUserToken] = userToken
		headers["Authorization"] = "Bearer " + userToken
	}
	return headers
}

func dialStreamableHTTP(ctx context.Context, provider ToolProvider, headers map[string]string) (Connection, error) {
	var opts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}

	mcpClient, err := client.NewStreamableHttpClient(provider.URL, opts...)
	if err != nil {
		return nil, err
	}

	return initialise(ctx, mcpClient, provider)
}

func dialSSE(ctx context.Context, provider ToolProvider, headers map[string]string) (Connection, error) {
	var opts []transport.ClientOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHeaders(headers))
	}

	mcpClient, err := client.NewSSEMCPClient(provider.URL, opts...)
	if err != nil {
		return nil, err
	}

	return initialise(ctx, mcpClient, provider)
}

func initialise(ctx context.Context, mcpClient *client.Client, provider ToolProvider) (Connection, error) {
	if err := mcpClient.GetTransport().Start(ctx); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("failed to start transport: %w", err)
	}

	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: protocolVersion,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    provider.Name,
				Version: "1.0.0",
			},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("failed to initialise session: %w", err)
	}

	return &clientConn{client: mcpClient}, nil
}

// clientConn adapts the mcp-go client to the Connection interface.
type clientConn struct {
	client *client.Client
}

func (c *clientConn) ListTools(ctx context.Context) ([]mcptypes.Tool, error) {
	result, err := c.client.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return result.Tools, nil
}

// CallTool performs a single invocation with no internal retry; retries, if
// any, happen as fresh orchestration steps.
func (c *clientConn) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := c.client.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("tool %s failed: %w", name, err)
	}

	content := flattenContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("tool %s returned an error: %s", name, content)
	}
	return content, nil
}

// GetPrompt fetches a provider-defined prompt by name. Providers without
// prompt support simply return an error, which callers treat as "no prompt".
func (c *clientConn) GetPrompt(ctx context.Context, name string) (string, error) {
	result, err := c.client.GetPrompt(ctx, mcptypes.GetPromptRequest{
		Params: mcptypes.GetPromptParams{Name: name},
	})
	if err != nil {
		return "", err
	}

	for _, msg := range result.Messages {
		if text, ok := msg.Content.(mcptypes.TextContent); ok {
			return text.Text, nil
		}
	}
	return result.Description, nil
}

func (c *clientConn) Close() error {
	return c.client.Close()
}

// flattenContent renders an MCP content array as a single string for the
// model's context: plain text when there is a single text block, JSON
// otherwise.
func flattenContent(content []mcptypes.Content) string {
	if len(content) == 0 {
		return "Tool executed successfully (no output)"
	}

	if len(content) == 1 {
		if text, ok := content[0].(mcptypes.TextContent); ok {
			return text.Text
		}
	}

	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("tool result could not be encoded: %v", err)
	}
	return string(data)
}
