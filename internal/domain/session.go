package domain

import (
	"sync"
	"time"
)

// ConnState is the lifecycle state of one websocket connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// Session is the per-connection identity binding and state machine.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu            sync.RWMutex
	state         ConnState
	userID        string
	username      string
	activeChannel string
}

func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
	}
}

// BeginAuth moves Connecting to Authenticating. It fails in any other state,
// so a credential is verified at most once per connection.
func (s *Session) BeginAuth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return false
	}
	s.state = StateAuthenticating
	return true
}

// Authenticate binds the identity and moves Authenticating to Authenticated.
func (s *Session) Authenticate(userID, username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticating {
		return false
	}
	s.userID = userID
	s.username = username
	s.state = StateAuthenticated
	return true
}

// Close moves to Closed and reports whether this call did the transition.
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	s.activeChannel = ""
	return true
}

func (s *Session) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// SetActiveChannel records which channel the client says it is viewing.
// An empty id clears it.
func (s *Session) SetActiveChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeChannel = channelID
}

func (s *Session) ActiveChannel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeChannel
}
