// Package server is the HTTP surface: turn submission, SSE delivery,
// conversation management and the auth/session middleware in front of
// them. It depends on the engine, store and broker through small
// interfaces so handler tests can run against fakes.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"govchat/engine"
	"govchat/model"
	"govchat/stream"
)

// TurnRunner executes one orchestrated turn. Implemented by engine.Engine.
type TurnRunner interface {
	RunTurn(ctx context.Context, req engine.TurnRequest) (model.Message, error)
}

// ConversationStore persists transcripts. Implemented by store.Store. Nil
// is allowed: the service then runs session-only, without history.
type ConversationStore interface {
	ListConversations(ctx context.Context, ownerEmail string) ([]model.Conversation, error)
	GetConversation(ctx context.Context, ownerEmail string, id int64) (model.Conversation, error)
	SaveConversation(ctx context.Context, ownerEmail, id, scope string, messages []model.Message) (int64, error)
	DeleteConversation(ctx context.Context, ownerEmail string, id int64) error
}

// Server wires the HTTP handlers.
type Server struct {
	engine   TurnRunner
	store    ConversationStore
	broker   *stream.Broker
	sessions *SessionManager
	local    bool
	logger   *slog.Logger
}

// New creates a server. local selects the fixed test identity instead of
// gateway tokens.
func New(turns TurnRunner, conversations ConversationStore, broker *stream.Broker, local bool, logger *slog.Logger) *Server {
	return &Server{
		engine:   turns,
		store:    conversations,
		broker:   broker,
		sessions: NewSessionManager(),
		local:    local,
		logger:   logger.With("component", "server"),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /post-message", s.handlePostMessage)
	mux.HandleFunc("GET /api/sse", s.handleSSE)
	mux.HandleFunc("POST /delete-chat", s.handleDeleteChat)
	mux.HandleFunc("GET /clear-session", s.handleClearSession)
	mux.HandleFunc("GET /chat-history", s.handleChatHistory)
	mux.HandleFunc("GET /chat", s.handleChat)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	return s.logRequests(s.authMiddleware(mux))
}
