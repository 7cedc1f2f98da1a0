package model

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates the stream event variants sent to the browser.
type EventType string

const (
	EventContent EventType = "content"
	EventTool    EventType = "tool"
	EventEnd     EventType = "end"
)

// Event is one discrete unit on the stream delivery channel. The payload
// shape depends on Type: a text fragment for content events, a ToolEventData
// for tool events, and nothing for end events.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// ToolEventData announces a tool invocation to the client.
type ToolEventData struct {
	Name   string         `json:"name"`
	Server string         `json:"server"`
	Args   map[string]any `json:"args,omitempty"`
}

// ContentEvent wraps a content fragment produced by the model.
func ContentEvent(text string) Event {
	return Event{Type: EventContent, Data: text}
}

// ToolEvent announces that the named tool is about to be invoked.
func ToolEvent(name, server string, args map[string]any) Event {
	return Event{Type: EventTool, Data: ToolEventData{Name: name, Server: server, Args: args}}
}

// EndEvent signals that the turn has finished streaming.
func EndEvent() Event {
	return Event{Type: EventEnd}
}

// Encode serialises the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses a wire frame back into an Event. Consumers treat a
// malformed unit as skippable, so callers should log and drop on error
// rather than tearing the stream down.
func DecodeEvent(data []byte) (Event, error) {
	var raw struct {
		Type EventType       `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("malformed stream event: %w", err)
	}

	ev := Event{Type: raw.Type}
	switch raw.Type {
	case EventContent:
		var text string
		if err := json.Unmarshal(raw.Data, &text); err != nil {
			return Event{}, fmt.Errorf("malformed content event: %w", err)
		}
		ev.Data = text
	case EventTool:
		var tool ToolEventData
		if err := json.Unmarshal(raw.Data, &tool); err != nil {
			return Event{}, fmt.Errorf("malformed tool event: %w", err)
		}
		ev.Data = tool
	case EventEnd:
		// No payload.
	default:
		return Event{}, fmt.Errorf("unknown stream event type %q", raw.Type)
	}

	return ev, nil
}
