package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"govchat/engine"
	"govchat/model"
	"govchat/store"
)

// turnSubmission is one turn request, accepted as form data (browser flow)
// or JSON (API clients).
type turnSubmission struct {
	Prompt  string   `json:"prompt"`
	Servers []string `json:"servers"`
	Tools   []string `json:"tools"`
	Model   string   `json:"model"`
	Scope   string   `json:"scope"`
	ChatID  string   `json:"chatid"`
}

func parseTurnSubmission(r *http.Request) (turnSubmission, error) {
	var sub turnSubmission

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			return sub, fmt.Errorf("invalid JSON body: %w", err)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return sub, fmt.Errorf("invalid form body: %w", err)
		}
		sub.Prompt = r.PostForm.Get("prompt")
		sub.Servers = r.PostForm["servers"]
		sub.Tools = r.PostForm["tools"]
		sub.Model = r.PostForm.Get("model")
		sub.Scope = r.PostForm.Get("scope")
		sub.ChatID = r.PostForm.Get("chatid")
	}

	if sub.Scope == "" {
		sub.Scope = "all"
	}
	return sub, nil
}

// handlePostMessage runs one turn: append the user message to the session
// transcript, orchestrate the model and tools, append the assistant reply,
// persist, respond. Streaming happens out of band through the SSE channel;
// this response only confirms completion.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorised", http.StatusUnauthorized)
		return
	}
	sess := s.sessions.Attach(w, r)

	sub, err := parseTurnSubmission(r)
	if err != nil {
		s.logger.Error("bad turn submission", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	messages := sess.Messages(sub.Scope)
	if len(messages) == 0 && s.store != nil && !store.IsNewConversation(sub.ChatID) {
		// A fresh session resuming an existing conversation (new device, or
		// the server restarted) starts from the stored transcript instead of
		// overwriting it with just the new pair.
		if id, err := strconv.ParseInt(sub.ChatID, 10, 64); err == nil {
			conversation, err := s.store.GetConversation(r.Context(), identity.Email, id)
			switch {
			case err == nil:
				messages = conversation.Messages
			case !errors.Is(err, store.ErrNotFound):
				s.logger.Error("failed to load conversation for turn", "chatid", id, "error", err)
			}
		}
	}
	if sub.Prompt != "" {
		messages = append(messages, model.Message{
			Role:      model.RoleUser,
			Content:   sub.Prompt,
			Timestamp: time.Now(),
		})

		reply, err := s.engine.RunTurn(r.Context(), engine.TurnRequest{
			History:           messages,
			SelectedProviders: sub.Servers,
			SelectedTools:     sub.Tools,
			Model:             sub.Model,
			Scope:             sub.Scope,
			AuthToken:         identity.Token,
			SessionToken:      sess.Token(),
		})
		if err != nil {
			s.logger.Error("turn failed", "error", err)
			http.Error(w, "turn failed", http.StatusInternalServerError)
			return
		}
		messages = append(messages, reply)
	}

	sess.SetMessages(sub.Scope, messages)

	chatID := sub.ChatID
	if s.store != nil && len(messages) > 0 {
		// The stored conversation is the source of truth; a turn that did not
		// persist is a failed turn, whatever the engine produced.
		id, err := s.store.SaveConversation(r.Context(), identity.Email, sub.ChatID, sub.Scope, messages)
		if err != nil {
			s.logger.Error("failed to persist conversation", "error", err)
			http.Error(w, "failed to save conversation", http.StatusInternalServerError)
			return
		}
		chatID = strconv.FormatInt(id, 10)
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{
			"chatid":   chatID,
			"messages": messages,
		})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleSSE is the long-lived event stream for the caller's session. The
// newest connection for a session wins; an older one is closed by the
// broker when superseded.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sess := s.sessions.Attach(w, r)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Content-Encoding", "none")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	subscription := s.broker.Subscribe(sess.Token())
	defer s.broker.Unsubscribe(subscription)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-subscription.Events():
			if !ok {
				// Superseded by a newer connection for this session.
				return
			}
			data, err := event.Encode()
			if err != nil {
				s.logger.Error("failed to encode event", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleDeleteChat removes one conversation. Owner scoping in the store
// makes deleting someone else's conversation a silent no-op.
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorised", http.StatusUnauthorized)
		return
	}

	if id, err := strconv.ParseInt(r.URL.Query().Get("chatid"), 10, 64); err == nil && s.store != nil {
		if err := s.store.DeleteConversation(r.Context(), identity.Email, id); err != nil {
			s.logger.Error("failed to delete conversation", "chatid", id, "error", err)
			http.Error(w, "delete failed", http.StatusInternalServerError)
			return
		}
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}
	http.Redirect(w, r, "/chat-history", http.StatusSeeOther)
}

// handleClearSession empties the session's transcript buffer for a scope.
// Public: it must work even for a user whose token has expired.
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = "all"
	}

	sess := s.sessions.Attach(w, r)
	sess.ClearMessages(scope)
	s.logger.Info("cleared session messages", "scope", scope)

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
		return
	}
	http.Redirect(w, r, "/"+scope, http.StatusSeeOther)
}

// handleChatHistory lists the caller's conversations, newest first.
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorised", http.StatusUnauthorized)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []model.Conversation{})
		return
	}

	conversations, err := s.store.ListConversations(r.Context(), identity.Email)
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if conversations == nil {
		conversations = []model.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

// handleChat returns one conversation by id.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorised", http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(r.URL.Query().Get("chatid"), 10, 64)
	if err != nil || s.store == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	conversation, err := s.store.GetConversation(r.Context(), identity.Email, id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("failed to load conversation", "chatid", id, "error", err)
		http.Error(w, "conversation unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conversation)
}

// handleHealth is the public liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
