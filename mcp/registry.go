package mcp

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Registry maintains the mapping from provider name to live tool set. The
// per-provider cache is written at most once per process lifetime; providers
// already cached are served without reconnecting. The registry is an
// explicit object constructed at process start and passed by reference, so
// tests can substitute a fresh cache and connector per run.
type Registry struct {
	providers  []ToolProvider
	aggregator string
	connector  Connector
	logger     *slog.Logger

	mu    sync.RWMutex
	cache map[string]*providerEntry
}

type providerEntry struct {
	conn  Connection
	tools []Descriptor
}

// Option customises a Registry.
type Option func(*Registry)

// WithConnector replaces the default mcp-go connector.
func WithConnector(c Connector) Option {
	return func(r *Registry) { r.connector = c }
}

// NewRegistry builds a registry over the configured providers. The provider
// named aggregatorName, if present, is expanded per request rather than
// cached (its sub-tools depend on the caller's auth token).
func NewRegistry(providers []ToolProvider, aggregatorName string, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		providers:  providers,
		aggregator: aggregatorName,
		connector:  Connect,
		logger:     logger.With("component", "mcp"),
		cache:      make(map[string]*providerEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListProviders returns the configured providers.
func (r *Registry) ListProviders() []ToolProvider {
	return r.providers
}

// ResolveTools returns the tools for the selected provider names, together
// with the names of providers that could not be reached. A provider that
// fails to connect contributes zero tools; discovery for the remaining
// providers continues independently. Errors never propagate past this
// boundary - they are attributed per provider and surfaced as data.
func (r *Registry) ResolveTools(ctx context.Context, selected []string, userToken string) ([]Descriptor, []string) {
	if len(selected) == 0 {
		return nil, nil
	}

	remaining := make(map[string]bool, len(selected))
	for _, name := range selected {
		remaining[name] = true
	}

	var tools []Descriptor
	var failed []string

	for _, p := range r.providers {
		if p.Name == r.aggregator || !remaining[p.Name] {
			continue
		}
		delete(remaining, p.Name)

		entry, err := r.resolveProvider(ctx, p, userToken)
		if err != nil {
			r.logger.Warn("error trying to access tool provider", "provider", p.Name, "error", err)
			failed = append(failed, p.Name)
			continue
		}
		tools = append(tools, entry.tools...)
	}

	// Names not matching a configured provider may be synthetic providers
	// surfaced by the aggregator.
	if len(remaining) > 0 {
		if agg, ok := r.aggregatorProvider(); ok {
			synthetic, err := r.expandAggregator(ctx, agg, userToken)
			if err != nil {
				r.logger.Warn("error expanding aggregator provider", "provider", agg.Name, "error", err)
				failed = append(failed, agg.Name)
			} else {
				for _, d := range synthetic {
					if remaining[d.Provider.Name] {
						tools = append(tools, d)
					}
				}
			}
		}
	}

	return tools, failed
}

// CallTool invokes one tool through its provider. Cached provider
// connections are reused; synthetic aggregator providers are dialled per
// call since their session depends on the caller's token.
func (r *Registry) CallTool(ctx context.Context, d Descriptor, args map[string]any, userToken string) (string, error) {
	r.mu.RLock()
	entry, ok := r.cache[d.Provider.Name]
	r.mu.RUnlock()

	if ok {
		return entry.conn.CallTool(ctx, d.Tool.Name, args)
	}

	conn, err := r.connector(ctx, d.Provider, userToken)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	return conn.CallTool(ctx, d.Tool.Name, args)
}

// Close tears down all cached provider connections.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, entry := range r.cache {
		if err := entry.conn.Close(); err != nil {
			r.logger.Warn("error closing provider connection", "provider", name, "error", err)
		}
		delete(r.cache, name)
	}
}

func (r *Registry) resolveProvider(ctx context.Context, p ToolProvider, userToken string) (*providerEntry, error) {
	r.mu.RLock()
	entry, ok := r.cache[p.Name]
	r.mu.RUnlock()
	if ok {
		return entry, nil
	}

	// Discovery runs without the lock held; two simultaneous first uses may
	// both connect, in which case the loser's connection is discarded.
	conn, err := r.connector(ctx, p, userToken)
	if err != nil {
		return nil, err
	}

	mcpTools, err := conn.ListTools(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	descriptors := make([]Descriptor, len(mcpTools))
	for i, t := range mcpTools {
		descriptors[i] = Descriptor{Tool: t, Provider: p}
	}
	entry = &providerEntry{conn: conn, tools: descriptors}

	r.mu.Lock()
	if existing, raced := r.cache[p.Name]; raced {
		r.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	r.cache[p.Name] = entry
	r.mu.Unlock()

	r.logger.Info("discovered tools", "provider", p.Name, "tools", len(descriptors))
	return entry, nil
}

func (r *Registry) aggregatorProvider() (ToolProvider, bool) {
	for _, p := range r.providers {
		if p.Name == r.aggregator {
			return p, true
		}
	}
	return ToolProvider{}, false
}

// expandAggregator surfaces each of the aggregator's tools as a synthetic
// single-tool provider, named from the tool's annotation title and enriched
// with the provider's custom prompt when one is published.
func (r *Registry) expandAggregator(ctx context.Context, agg ToolProvider, userToken string) ([]Descriptor, error) {
	conn, err := r.connector(ctx, agg, userToken)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	mcpTools, err := conn.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	descriptors := make([]Descriptor, 0, len(mcpTools))
	for _, t := range mcpTools {
		name := strings.TrimPrefix(t.Annotations.Title, "Search ")
		if name == "" {
			name = t.Name
		}

		prompt, err := conn.GetPrompt(ctx, t.Name)
		if err != nil {
			prompt = ""
		}

		descriptors = append(descriptors, Descriptor{
			Tool: t,
			Provider: ToolProvider{
				Name:        name,
				Description: t.Description,
				URL:         agg.URL,
				AccessToken: agg.AccessToken,
				Prompt:      prompt,
			},
		})
	}

	return descriptors, nil
}
