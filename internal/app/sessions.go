package app

import (
	"sync"

	"github.com/rs/zerolog"

	"estate_reviews/internal/domain"
)

// SessionManager hands out one Session per agent for the mutation endpoints
// and closes them all on shutdown.
type SessionManager struct {
	client domain.ReviewsClient
	cache  domain.Cache
	pub    domain.EventPublisher
	log    zerolog.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewSessionManager(c domain.ReviewsClient, cache domain.Cache, pub domain.EventPublisher, logger zerolog.Logger) *SessionManager {
	return &SessionManager{
		client:   c,
		cache:    cache,
		pub:      pub,
		log:      logger,
		sessions: make(map[int64]*Session),
	}
}

// Get returns the agent's session, creating it on first use.
func (m *SessionManager) Get(agentID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[agentID]; ok {
		return s
	}
	s := NewSession(agentID, m.client, m.cache, m.pub, m.log)
	m.sessions[agentID] = s
	return s
}

func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.Close()
		delete(m.sessions, id)
	}
}
