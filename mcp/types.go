package mcp

import (
	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// ToolProvider is one configured external tool source. Synthetic providers
// derived from the aggregator carry the aggregator's URL and token, plus an
// optional custom Prompt fetched from the aggregator.
type ToolProvider struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	URL         string `json:"url" yaml:"url"`
	AccessToken string `json:"accessToken,omitempty" yaml:"accessToken,omitempty"`
	Prompt      string `json:"-" yaml:"-"`
}

// Descriptor is one callable capability together with the provider that
// serves it.
type Descriptor struct {
	Tool     mcptypes.Tool
	Provider ToolProvider
}

// ProviderName returns the name of the provider serving this tool.
func (d Descriptor) ProviderName() string {
	return d.Provider.Name
}

// Title returns the display title from the tool's annotations, falling back
// to the tool name.
func (d Descriptor) Title() string {
	if d.Tool.Annotations.Title != "" {
		return d.Tool.Annotations.Title
	}
	return d.Tool.Name
}

// Tools extracts the plain MCP tool list from a descriptor set, for handing
// to an LLM provider.
func Tools(descriptors []Descriptor) []mcptypes.Tool {
	if len(descriptors) == 0 {
		return nil
	}
	tools := make([]mcptypes.Tool, len(descriptors))
	for i, d := range descriptors {
		tools[i] = d.Tool
	}
	return tools
}
