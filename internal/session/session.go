// Package session owns the per-connection conversation state and the three
// entry points the transport drives: OnConnect, OnMessage and OnDisconnect.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/luiscore200/cotizador/internal/domain"
	"github.com/luiscore200/cotizador/internal/timeout"
)

var (
	// ErrSessionExists is returned by OnConnect for an id already in use.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned for ids with no live session.
	ErrSessionNotFound = errors.New("session not found")

	errSessionClosed = errors.New("session closed")
)

// Close reasons recorded in metrics, traces and the archive.
const (
	ReasonClientClosed = "client_closed"
	ReasonInactivity   = "inactivity"
	ReasonShutdown     = "shutdown"
)

// Conn delivers payloads to one connected client.
type Conn interface {
	Send(ctx context.Context, reply domain.Reply) error
	// Close terminates the connection from the server side.
	Close(reason string) error
}

// Session is the aggregate for one live connection. Context, history and the
// inactivity controller live and die together.
type Session struct {
	id        string
	clientID  string
	conn      Conn
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	timer  *timeout.Controller

	// turn is a single slot; holding it means a generator call is running.
	turn chan struct{}

	// out serializes emissions with teardown so nothing is sent after close.
	out sync.Mutex

	mu      sync.Mutex
	data    domain.StructuredContext
	history []domain.HistoryEntry
	// turns counts client messages.
	turns   int
	closed  bool
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) acquireTurn(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-s.ctx.Done():
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) releaseTurn() {
	<-s.turn
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// record appends to the history unless the session is gone.
func (s *Session) record(role domain.Role, text string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.history = append(s.history, domain.HistoryEntry{Role: role, Text: text, Timestamp: at})
	if role == domain.RoleUser {
		s.turns++
	}
	return true
}

// apply merges patch, records the assistant message and returns the reply to
// emit. ok is false when the session closed while the generator was running.
func (s *Session) apply(patch domain.Patch, message string, at time.Time) (reply domain.Reply, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Reply{}, false
	}
	s.data.Merge(patch)
	s.history = append(s.history, domain.HistoryEntry{Role: domain.RoleAssistant, Text: message, Timestamp: at})
	return domain.NewReply(message, s.data), true
}

func (s *Session) snapshot() domain.StructuredContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

// emit sends reply unless the session has been torn down.
func (s *Session) emit(reply domain.Reply) error {
	s.out.Lock()
	defer s.out.Unlock()
	if s.isClosed() {
		return errSessionClosed
	}
	return s.conn.Send(s.ctx, reply)
}

// shutdown cancels timers and the in-flight generator call, then marks the
// session closed. It reports whether this call performed the teardown.
func (s *Session) shutdown() bool {
	s.timer.Stop()
	s.cancel()

	s.out.Lock()
	defer s.out.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *Session) quotation(reason string, closedAt time.Time) domain.Quotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.data.Clone()
	return domain.Quotation{
		SessionID:    s.id,
		ClientID:     s.clientID,
		Context:      data,
		Complete:     data.Complete(),
		Turns:        s.turns,
		ClosedReason: reason,
		StartedAt:    s.startedAt,
		ClosedAt:     closedAt,
	}
}

// Snapshot is a read-only copy of a session's state.
type Snapshot struct {
	ID        string
	ClientID  string
	Context   domain.StructuredContext
	History   []domain.HistoryEntry
	Turns     int
	State     timeout.State
	StartedAt time.Time
}

func (s *Session) view() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]domain.HistoryEntry, len(s.history))
	copy(history, s.history)
	return Snapshot{
		ID:        s.id,
		ClientID:  s.clientID,
		Context:   s.data.Clone(),
		History:   history,
		Turns:     s.turns,
		State:     s.timer.State(),
		StartedAt: s.startedAt,
	}
}
