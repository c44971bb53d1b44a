package registry

import "sync"

// Subscriptions tracks which sessions are subscribed to which resource
// URIs, and fans out updates. Sessions without an id (stateless
// transports) never appear here and receive nothing.
type Subscriptions struct {
	mu        sync.Mutex
	bySession map[string]map[string]struct{}
	notify    func(sessionID, uri string)
}

// NewSubscriptions creates an empty subscription table. notify is called
// (outside the lock) once per subscribed session for every NotifyUpdated
// call, to emit "notifications/resources/updated" on that session's
// transport.
func NewSubscriptions(notify func(sessionID, uri string)) *Subscriptions {
	return &Subscriptions{bySession: make(map[string]map[string]struct{}), notify: notify}
}

// Subscribe records that sessionID wants updates for uri.
func (s *Subscriptions) Subscribe(sessionID, uri string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.bySession[sessionID]
	if !ok {
		set = make(map[string]struct{})
		s.bySession[sessionID] = set
	}
	set[uri] = struct{}{}
}

// Unsubscribe removes a prior subscription.
func (s *Subscriptions) Unsubscribe(sessionID, uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.bySession[sessionID]; ok {
		delete(set, uri)
		if len(set) == 0 {
			delete(s.bySession, sessionID)
		}
	}
}

// RemoveSession drops every subscription held by sessionID, called on
// session teardown.
func (s *Subscriptions) RemoveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bySession, sessionID)
}

// NotifyUpdated emits an update for uri to every subscribed session.
// Emissions for a given session are serialized in call order; notify is
// invoked outside the lock so it may itself call back into the server
// without deadlocking on this table.
func (s *Subscriptions) NotifyUpdated(uri string) {
	s.mu.Lock()
	sessionIDs := make([]string, 0, len(s.bySession))
	for sessionID, uris := range s.bySession {
		if _, ok := uris[uri]; ok {
			sessionIDs = append(sessionIDs, sessionID)
		}
	}
	s.mu.Unlock()

	if s.notify == nil {
		return
	}
	for _, sessionID := range sessionIDs {
		s.notify(sessionID, uri)
	}
}
