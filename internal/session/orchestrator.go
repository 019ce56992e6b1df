package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/luiscore200/cotizador/internal/contract"
	"github.com/luiscore200/cotizador/internal/convlog"
	"github.com/luiscore200/cotizador/internal/domain"
	"github.com/luiscore200/cotizador/internal/generator"
	"github.com/luiscore200/cotizador/internal/identity"
	"github.com/luiscore200/cotizador/internal/metrics"
	"github.com/luiscore200/cotizador/internal/prompt"
	"github.com/luiscore200/cotizador/internal/timeout"
)

// Archiver stores the final state of a finished session.
type Archiver interface {
	SaveQuotation(ctx context.Context, q domain.Quotation) error
}

// Config wires an Orchestrator. Zero values fall back to defaults.
type Config struct {
	InactivityTimeout time.Duration
	Prompts           prompt.Set
	Messages          prompt.Messages
	Clock             timeout.Clock
	Archive           Archiver
	ArchiveTimeout    time.Duration
	Trace             convlog.Logger
	Logger            *slog.Logger
}

const defaultInactivityTimeout = 30 * time.Second

// Orchestrator is the arena of live sessions keyed by id.
type Orchestrator struct {
	invoker *generator.Invoker
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewOrchestrator creates an Orchestrator that drafts replies through invoker.
func NewOrchestrator(invoker *generator.Invoker, cfg Config) *Orchestrator {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = defaultInactivityTimeout
	}
	if cfg.Prompts.Base == "" {
		cfg.Prompts = prompt.Default()
	}
	if cfg.Messages.Apology == "" {
		cfg.Messages = prompt.DefaultMessages()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeout.RealClock{}
	}
	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = 5 * time.Second
	}
	if cfg.Trace == nil {
		cfg.Trace = convlog.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		invoker:  invoker,
		cfg:      cfg,
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*Session),
	}
}

// Messages returns the canned client-facing texts.
func (o *Orchestrator) Messages() prompt.Messages {
	return o.cfg.Messages
}

// Len returns the number of live sessions.
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Snapshot returns a copy of the session's state.
func (o *Orchestrator) Snapshot(id string) (Snapshot, bool) {
	s, ok := o.lookup(id)
	if !ok {
		return Snapshot{}, false
	}
	return s.view(), true
}

// OnConnect registers a session for conn, greets the client and starts the
// inactivity timer. The timer is armed even when the greeting falls back.
func (o *Orchestrator) OnConnect(ctx context.Context, id string, conn Conn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		id:        id,
		clientID:  identity.ClientIDFromContext(ctx),
		conn:      conn,
		startedAt: o.now(),
		ctx:       sessCtx,
		cancel:    cancel,
		turn:      make(chan struct{}, 1),
	}
	s.timer = timeout.NewController(o.cfg.Clock, o.cfg.InactivityTimeout, timeout.Handlers{
		OnWarn:   func() { o.warn(s) },
		OnExpire: func() { o.expire(s) },
	}, o.logger.With("session_id", id))

	o.mu.Lock()
	if _, exists := o.sessions[id]; exists {
		o.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	o.sessions[id] = s
	o.mu.Unlock()

	metrics.SessionOpened()
	o.cfg.Trace.Log(convlog.Event{
		SessionID: id,
		ClientID:  s.clientID,
		EventType: convlog.EventSessionOpened,
	})
	o.logger.Info("Session opened", "session_id", id, "client_id", s.clientID)

	// The timer stays held until the greeting is out, then arms.
	s.timer.Pause()
	defer s.timer.Resume()

	if err := s.acquireTurn(ctx); err != nil {
		return nil
	}
	defer s.releaseTurn()

	resp := o.invoker.Invoke(s.ctx, generator.PromptContext{
		Instructions:   o.cfg.Prompts.GreetingInstructions(),
		LatestUserText: o.cfg.Prompts.GreetingUserText,
	}, o.cfg.Messages.Greeting)
	metrics.RecordTurn("greeting", resp.Source.String())

	o.deliver(s, resp)
	return nil
}

// OnMessage runs one client turn: cancel the inactivity timers, call the
// generator with the accumulated context, merge its data, reply, re-arm.
// Turns on one session run one at a time in arrival order.
func (o *Orchestrator) OnMessage(ctx context.Context, id, text string) error {
	s, ok := o.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.timer.Pause()
	defer s.timer.Resume()

	if err := s.acquireTurn(ctx); err != nil {
		if errors.Is(err, errSessionClosed) {
			return nil
		}
		return err
	}
	defer s.releaseTurn()

	if !s.record(domain.RoleUser, text, o.now()) {
		return nil
	}
	o.cfg.Trace.Log(convlog.Event{
		SessionID: id,
		ClientID:  s.clientID,
		EventType: convlog.EventUserMessage,
		Role:      domain.RoleUser,
		Text:      text,
	})

	resp := o.invoker.Invoke(s.ctx, generator.PromptContext{
		Instructions:   o.cfg.Prompts.TurnInstructions(),
		Current:        s.snapshot(),
		LatestUserText: text,
	}, o.cfg.Messages.Apology)
	metrics.RecordTurn("message", resp.Source.String())

	o.deliver(s, resp)
	return nil
}

// OnDisconnect tears the session down: timers are cancelled before it
// returns and any in-flight generator result is discarded. Unknown ids are
// ignored so the call is safe to repeat.
func (o *Orchestrator) OnDisconnect(id, reason string) {
	s, ok := o.remove(id, nil)
	if !ok {
		return
	}
	o.finish(s, reason)
}

// Shutdown closes every live session with ReasonShutdown.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	live := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		live = append(live, s)
	}
	o.mu.Unlock()

	for _, s := range live {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.terminate(s, ReasonShutdown)
	}
	return nil
}

func (o *Orchestrator) deliver(s *Session, resp contract.Response) {
	reply, ok := s.apply(resp.Data, resp.Message, o.now())
	if !ok {
		metrics.RecordDroppedEmission()
		o.logger.Debug("Dropping reply for closed session", "session_id", s.id)
		return
	}
	data := reply.Data
	o.cfg.Trace.Log(convlog.Event{
		SessionID: s.id,
		ClientID:  s.clientID,
		EventType: convlog.EventAssistant,
		Role:      domain.RoleAssistant,
		Text:      resp.Message,
		Source:    resp.Source.String(),
		Context:   data,
	})
	o.send(s, reply)
}

func (o *Orchestrator) send(s *Session, reply domain.Reply) {
	if err := s.emit(reply); err != nil {
		if errors.Is(err, errSessionClosed) {
			metrics.RecordDroppedEmission()
			return
		}
		o.logger.Warn("Failed to send reply", "session_id", s.id, "type", reply.Type, "error", err)
	}
}

func (o *Orchestrator) notice(s *Session, t domain.ReplyType, message string) {
	o.cfg.Trace.Log(convlog.Event{
		SessionID: s.id,
		ClientID:  s.clientID,
		EventType: convlog.EventNotice,
		Text:      message,
		Source:    string(t),
	})
	o.send(s, domain.Notice(t, message))
}

func (o *Orchestrator) warn(s *Session) {
	metrics.RecordInactivity(timeout.StateWarned.String())
	o.logger.Info("Session inactive, sending warning", "session_id", s.id)
	o.notice(s, domain.ReplyTypeWarning, o.cfg.Messages.Warning)
}

func (o *Orchestrator) expire(s *Session) {
	metrics.RecordInactivity(timeout.StateClosed.String())
	o.logger.Info("Session inactive after warning, closing", "session_id", s.id)
	o.notice(s, domain.ReplyTypeClosing, o.cfg.Messages.Closing)
	o.terminate(s, ReasonInactivity)
}

// terminate closes a session from the server side.
func (o *Orchestrator) terminate(s *Session, reason string) {
	if _, ok := o.remove(s.id, s); !ok {
		return
	}
	o.finish(s, reason)
	if err := s.conn.Close(reason); err != nil {
		o.logger.Debug("Failed to close connection", "session_id", s.id, "error", err)
	}
}

// remove deletes id from the arena. When want is set, only that exact
// session is removed.
func (o *Orchestrator) remove(id string, want *Session) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok || (want != nil && s != want) {
		return nil, false
	}
	delete(o.sessions, id)
	return s, true
}

func (o *Orchestrator) lookup(id string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	return s, ok
}

func (o *Orchestrator) finish(s *Session, reason string) {
	if !s.shutdown() {
		return
	}
	closedAt := o.now()
	metrics.SessionClosed(reason)

	q := s.quotation(reason, closedAt)
	o.cfg.Trace.Log(convlog.Event{
		Timestamp: closedAt,
		SessionID: s.id,
		ClientID:  s.clientID,
		EventType: convlog.EventSessionClosed,
		Context:   &q.Context,
		Reason:    reason,
	})
	o.logger.Info("Session closed",
		"session_id", s.id,
		"reason", reason,
		"turns", q.Turns,
		"complete", q.Complete,
	)

	if o.cfg.Archive == nil || q.Context.IsEmpty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ArchiveTimeout)
	defer cancel()
	if err := o.cfg.Archive.SaveQuotation(ctx, q); err != nil {
		o.logger.Error("Failed to archive quotation", "session_id", s.id, "error", err)
	}
}
