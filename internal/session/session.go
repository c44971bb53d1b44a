// Package session implements MCP session lifecycle: creation on a
// successful initialize, the per-session state a stateful transport keeps
// between requests, and teardown through Manager.Close, which fires the
// onClosed callback. No transport in this module calls Manager.Close: an
// HTTP DELETE or a transport close ends only the transport's own session
// state, and the Manager entry and its subscriptions remain. The
// session table reuses the RWMutex-guarded registry pattern found
// elsewhere in this codebase, and transportcore's claims-in-context
// plumbing covers the auth surface.
package session

import (
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/mcpcore/go-mcp/internal/oauth"
)

// Session is the per-connection state a stateful transport keeps between
// an initialize handshake and teardown. Resource subscriptions are not
// tracked here: registry.Subscriptions is the single source of truth for
// which sessions are subscribed to which URIs, since the dispatcher needs
// the reverse index (uri -> sessions) that Subscriptions already maintains.
type Session struct {
	ID                        string
	ClientCapabilities        map[string]any
	ClientImplementation      map[string]any
	NegotiatedProtocolVersion string
	LoggingLevel              string

	mu sync.Mutex
}

// NewSession constructs a Session with a freshly generated id.
func NewSession() *Session {
	return newSessionWithID(uuid.NewString())
}

func newSessionWithID(id string) *Session {
	return &Session{ID: id, LoggingLevel: "info"}
}

// SetNegotiated records the outcome of the initialize handshake.
func (s *Session) SetNegotiated(clientCapabilities, clientImplementation map[string]any, protocolVersion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClientCapabilities = clientCapabilities
	s.ClientImplementation = clientImplementation
	s.NegotiatedProtocolVersion = protocolVersion
}

// SetLoggingLevel updates the minimum severity this session wants streamed
// via notifications/message.
func (s *Session) SetLoggingLevel(level string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoggingLevel = level
}

// GetLoggingLevel returns the session's current logging level.
func (s *Session) GetLoggingLevel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LoggingLevel
}

// Manager is a thread-safe table of live sessions, keyed by session id.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	onClosed func(sessionID string)
}

// NewManager creates an empty session manager. onClosed, if non-nil, is
// invoked (outside the manager's lock) whenever a session is torn down, so
// callers can clean up subscriptions elsewhere (registry.Subscriptions).
func NewManager(onClosed func(sessionID string)) *Manager {
	return &Manager{sessions: make(map[string]*Session), onClosed: onClosed}
}

// Create registers a new session and returns it. Stateless transports,
// where a request without a session id is treated as its own one-off
// session, simply never call this.
func (m *Manager) Create() *Session {
	s := NewSession()
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// CreateWithID registers a session under a caller-supplied id, such as one
// a stateful transport already minted for the connection (streamhttp's
// Mcp-Session-Id). An empty id falls back to Create.
func (m *Manager) CreateWithID(id string) *Session {
	if id == "" {
		return m.Create()
	}
	s := newSessionWithID(id)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close tears down a session, by id. A no-op if id is unknown.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok && m.onClosed != nil {
		m.onClosed(id)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// RequestContext is the per-request authentication/session surface
// handlers receive alongside a request, before it is narrowed into a
// protocol.RequestHandlerExtra.
type RequestContext struct {
	SessionID string
	Headers   http.Header
	Claims    *oauth.TokenClaims
}
