// Package llm abstracts the chat model backends behind a common Provider
// interface, so the orchestration engine stays backend-agnostic. The
// OpenAI-compatible provider covers direct OpenAI, Azure OpenAI and LiteLLM
// gateways; Anthropic and Ollama have their own implementations.
package llm

import (
	"context"
	"fmt"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"govchat/model"
)

// StreamCallback receives each streamed fragment as it arrives. A chunk is
// a piece of assistant text; toolCalls carries any tool invocations the
// model requested, delivered at the position in the stream where they were
// detected. Returning an error aborts the stream.
type StreamCallback func(chunk string, toolCalls []model.ToolCall) error

// Provider is one chat model backend.
type Provider interface {
	// ChatWithTools streams one model response for the given transcript,
	// advertising the given tools. The callback observes text and tool
	// calls in production order.
	ChatWithTools(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, callback StreamCallback) error

	GetModel() string
	SetModel(model string)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

// Config holds backend selection and credentials.
type Config struct {
	Provider   string
	BaseURL    string
	APIKey     string
	APIVersion string
	Model      string
}

// NewProvider creates a provider for the configured backend.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai", "azure", "litellm":
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.APIVersion, cfg.Model)
	case "anthropic":
		return NewAnthropicProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case "ollama":
		return NewOllamaProvider(cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}
