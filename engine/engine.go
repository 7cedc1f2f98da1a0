// Package engine runs the agent loop: given a transcript and the user's
// tool selection it invokes the model, executes requested tool calls
// through the registry, feeds results back, and repeats until the model
// produces a final answer or the step budget runs out. Progress is streamed
// to the caller's session as events.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"govchat/llm"
	"govchat/mcp"
	"govchat/model"
)

// maxTurnSteps bounds model/tool round-trips per turn. On the final step
// the loop finalizes with whatever content exists, even if the model asked
// for another tool call.
const maxTurnSteps = 5

// connectionApology is the user-visible fallback when the model backend
// cannot be reached. It is persisted as the assistant turn like any real
// answer, so the transcript never holds an empty or missing reply.
const connectionApology = "There is a problem connecting to the LLM. Please try again."

// ToolResolver supplies tool discovery and invocation. Implemented by
// mcp.Registry.
type ToolResolver interface {
	ResolveTools(ctx context.Context, selected []string, userToken string) ([]mcp.Descriptor, []string)
	CallTool(ctx context.Context, d mcp.Descriptor, args map[string]any, userToken string) (string, error)
}

// Publisher delivers events to a session's stream. Implemented by
// stream.Broker.
type Publisher interface {
	Publish(token string, event model.Event)
}

// ProviderFactory builds an LLM provider for the requested model, or the
// configured default when modelName is empty.
type ProviderFactory func(modelName string) (llm.Provider, error)

// TurnRequest carries everything needed to run one turn.
type TurnRequest struct {
	// History is the conversation so far, ending with the new user message.
	History []model.Message

	// SelectedProviders and SelectedTools narrow the enabled tool set.
	// Empty SelectedProviders means no tools; empty SelectedTools means
	// every tool of the selected providers.
	SelectedProviders []string
	SelectedTools     []string

	Model string
	Scope string

	// AuthToken is the end user's bearer token, forwarded to tool
	// providers. SessionToken keys event delivery.
	AuthToken    string
	SessionToken string
}

// Engine orchestrates turns. Safe for concurrent use.
type Engine struct {
	resolver    ToolResolver
	publisher   Publisher
	newProvider ProviderFactory
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an engine.
func New(resolver ToolResolver, publisher Publisher, factory ProviderFactory, logger *slog.Logger) *Engine {
	return &Engine{
		resolver:    resolver,
		publisher:   publisher,
		newProvider: factory,
		logger:      logger.With("component", "engine"),
		now:         time.Now,
	}
}

// RunTurn executes one turn and returns the assistant message to persist.
// The caller always gets a well-formed message: model failures surface as
// an apology in the message content, never as an error, so they persist
// and stream exactly like a real answer. The returned error is reserved
// for request-level problems (context cancellation).
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) (model.Message, error) {
	tools, failed := e.resolver.ResolveTools(ctx, req.SelectedProviders, req.AuthToken)
	for _, name := range failed {
		e.logger.Warn("tool provider unavailable for turn", "provider", name)
	}
	tools = filterByToolNames(tools, req.SelectedTools)

	byName := make(map[string]mcp.Descriptor, len(tools))
	for _, d := range tools {
		byName[d.Tool.Name] = d
	}

	transcript := make([]model.Message, 0, len(req.History)+1)
	transcript = append(transcript, model.Message{
		Role:    model.RoleSystem,
		Content: buildSystemPrompt(e.now(), tools),
	})
	transcript = append(transcript, req.History...)

	provider, err := e.newProvider(req.Model)
	if err != nil {
		e.logger.Error("error connecting to LLM, check your env vars", "error", err)
		return e.apologise(req.SessionToken), nil
	}

	var answer strings.Builder
	var records []model.ToolCallRecord

	for step := 0; step < maxTurnSteps; step++ {
		var pending []model.ToolCall
		var roundText strings.Builder

		callback := func(chunk string, toolCalls []model.ToolCall) error {
			if chunk != "" {
				answer.WriteString(chunk)
				roundText.WriteString(chunk)
				e.publisher.Publish(req.SessionToken, model.ContentEvent(chunk))
			}
			for _, call := range toolCalls {
				pending = append(pending, call)
				d, ok := byName[call.Name]
				server := ""
				if ok {
					server = d.Provider.Name
				}
				e.publisher.Publish(req.SessionToken, model.ToolEvent(call.Name, server, call.Arguments))
			}
			return nil
		}

		if err := provider.ChatWithTools(ctx, transcript, mcp.Tools(tools), callback); err != nil {
			if ctx.Err() != nil {
				return model.Message{}, ctx.Err()
			}
			e.logger.Error("error connecting to LLM, check your env vars", "error", err)
			return e.apologise(req.SessionToken), nil
		}

		if len(pending) == 0 {
			break
		}
		if step == maxTurnSteps-1 {
			e.logger.Warn("step budget exhausted, finalizing turn",
				"steps", maxTurnSteps, "pending_calls", len(pending))
			// These calls were already announced on the stream, so the stored
			// turn must show what became of them.
			for _, call := range pending {
				record := model.ToolCallRecord{
					ToolName:  call.Name,
					Arguments: call.Arguments,
					Result:    "Not executed: step budget exhausted",
				}
				if d, ok := byName[call.Name]; ok {
					record.ProviderName = d.Provider.Name
				}
				records = append(records, record)
			}
			break
		}

		// The next round must see what the model already said alongside the
		// tool results, or it can repeat itself.
		if roundText.Len() > 0 {
			transcript = append(transcript, model.Message{
				Role:    model.RoleAssistant,
				Content: roundText.String(),
			})
		}

		// Feed each result back as a tool message so the next model step can
		// use it.
		for _, call := range pending {
			record, resultMsg := e.executeToolCall(ctx, byName, call, req.AuthToken)
			records = append(records, record)
			transcript = append(transcript, resultMsg)
		}
	}

	e.publisher.Publish(req.SessionToken, model.EndEvent())

	return model.Message{
		Role:      model.RoleAssistant,
		Content:   answer.String(),
		ToolCalls: records,
		Timestamp: e.now(),
	}, nil
}

// executeToolCall invokes one tool and renders the outcome as a transcript
// message. Invocation failures are not fatal to the turn: the error text is
// fed back so the model can react or apologise itself.
func (e *Engine) executeToolCall(ctx context.Context, byName map[string]mcp.Descriptor, call model.ToolCall, authToken string) (model.ToolCallRecord, model.Message) {
	record := model.ToolCallRecord{
		ToolName:  call.Name,
		Arguments: call.Arguments,
	}

	d, ok := byName[call.Name]
	if !ok {
		record.Result = fmt.Sprintf("Tool %s is not available", call.Name)
		return record, model.Message{Role: model.RoleTool, Content: record.Result}
	}
	record.ProviderName = d.Provider.Name

	result, err := e.resolver.CallTool(ctx, d, call.Arguments, authToken)
	if err != nil {
		e.logger.Warn("tool call failed", "tool", call.Name, "provider", d.Provider.Name, "error", err)
		record.Result = fmt.Sprintf("Tool %s failed: %v", call.Name, err)
	} else {
		record.Result = result
	}

	return record, model.Message{
		Role:    model.RoleTool,
		Content: fmt.Sprintf("Result from %s tool: %s", call.Name, record.Result),
	}
}

// apologise emits the fallback message through the normal event path and
// returns it for persistence.
func (e *Engine) apologise(sessionToken string) model.Message {
	e.publisher.Publish(sessionToken, model.ContentEvent(connectionApology))
	e.publisher.Publish(sessionToken, model.EndEvent())
	return model.Message{
		Role:      model.RoleAssistant,
		Content:   connectionApology,
		Timestamp: e.now(),
	}
}

// filterByToolNames keeps only the named tools. An empty filter keeps
// everything.
func filterByToolNames(tools []mcp.Descriptor, names []string) []mcp.Descriptor {
	if len(names) == 0 {
		return tools
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	filtered := tools[:0]
	for _, d := range tools {
		if wanted[d.Tool.Name] {
			filtered = append(filtered, d)
		}
	}
	return filtered
}
