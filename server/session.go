package server

import (
	"net/http"
	"sync"

	"github.com/google/uuid"

	"govchat/model"
)

const sessionCookie = "govchat-session"

// Session is one browser session: the owner's email plus the working
// transcript for each conversation scope. The session token doubles as the
// key for SSE event delivery.
type Session struct {
	token string

	mu       sync.Mutex
	owner    string
	messages map[string][]model.Message
}

// Token returns the session's opaque identifier.
func (s *Session) Token() string {
	return s.token
}

// OwnerEmail returns the user this session belongs to.
func (s *Session) OwnerEmail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Reset drops all session state and binds the session to a new owner. Used
// when a different user appears on the same browser session.
func (s *Session) Reset(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = owner
	s.messages = make(map[string][]model.Message)
}

// Messages returns a copy of the scope's transcript buffer.
func (s *Session) Messages(scope string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.messages[scope]
	out := make([]model.Message, len(buf))
	copy(out, buf)
	return out
}

// SetMessages replaces the scope's transcript buffer.
func (s *Session) SetMessages(scope string, messages []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[scope] = messages
}

// ClearMessages empties the scope's transcript buffer.
func (s *Session) ClearMessages(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, scope)
}

// SessionManager tracks in-memory sessions keyed by cookie value.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Attach returns the request's session, minting a new one (and setting the
// cookie) when none exists.
func (m *SessionManager) Attach(w http.ResponseWriter, r *http.Request) *Session {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if sess := m.lookup(cookie.Value); sess != nil {
			return sess
		}
	}

	sess := &Session{
		token:    uuid.NewString(),
		messages: make(map[string][]model.Message),
	}

	m.mu.Lock()
	m.sessions[sess.token] = sess
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

// Get returns the session for a token, or nil.
func (m *SessionManager) lookup(token string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[token]
}
