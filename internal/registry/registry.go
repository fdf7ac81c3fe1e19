package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/LeventeLantos/bulk-messaging/internal/relay"
	"github.com/LeventeLantos/bulk-messaging/internal/repo"
	"github.com/LeventeLantos/bulk-messaging/internal/transport"
)

var (
	ErrUnknownSession   = errors.New("registry: unknown session")
	ErrNotReady         = errors.New("registry: session not authenticated or not ready")
	ErrAlreadyRunning   = errors.New("registry: session already has a queue in progress")
	ErrPaused           = errors.New("registry: session is paused")
	ErrSessionAbandoned = errors.New("registry: session abandoned after linking code retries")
)

const appendResponseTimeout = 10 * time.Second

type session struct {
	id        string
	transport transport.Session

	authed     bool
	ready      bool
	paused     bool
	inProgress bool
	// currentQueueID sticks across pause and batch boundaries so a resume
	// can locate the owning session; it only changes on the next claim.
	currentQueueID int64

	qrRetries int
}

// Registry owns every live session, one per messaging identity. It is
// constructed once at startup and injected wherever session state is
// needed; all state changes happen under its mutex, which is what makes
// the processor's check-and-claim atomic.
type Registry struct {
	connector  transport.Connector
	recipients repo.RecipientRepository
	relay      relay.Relay

	qrMaxRetries int

	mu       sync.Mutex
	sessions map[string]*session
}

func New(connector transport.Connector, recipients repo.RecipientRepository, rl relay.Relay, qrMaxRetries int) *Registry {
	if qrMaxRetries <= 0 {
		qrMaxRetries = 3
	}
	return &Registry{
		connector:    connector,
		recipients:   recipients,
		relay:        rl,
		qrMaxRetries: qrMaxRetries,
		sessions:     make(map[string]*session),
	}
}

// Attach returns the existing session for sessionID or creates a new
// transport connection for it. Idempotent: a second Attach for a live (or
// still-connecting) session never opens a second transport connection.
func (r *Registry) Attach(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	if _, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		return nil
	}
	// Reserve the slot before connecting so concurrent Attach calls for
	// the same id cannot both dial the provider.
	s := &session{id: sessionID}
	r.sessions[sessionID] = s
	r.mu.Unlock()

	handle, err := r.connector.Connect(ctx, sessionID, r.events(sessionID))
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, sessionID)
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	s.transport = handle
	r.mu.Unlock()

	slog.Info("session attached", "session", sessionID)
	return nil
}

func (r *Registry) events(sessionID string) transport.Events {
	return transport.Events{
		OnLinkCode:      func(code string) { r.onLinkCode(sessionID, code) },
		OnAuthenticated: func() { r.setAuthenticated(sessionID) },
		OnReady:         func() { r.setReady(sessionID) },
		OnMessage:       func(from, body string) { r.onMessage(sessionID, from, body) },
		OnDisconnected:  func(reason string) { r.onDisconnected(sessionID, reason) },
	}
}

func (r *Registry) onLinkCode(sessionID, code string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	s.qrRetries++
	exhausted := s.qrRetries > r.qrMaxRetries
	var handle transport.Session
	if exhausted {
		handle = s.transport
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if exhausted {
		slog.Warn("session abandoned, linking code retries exhausted", "session", sessionID, "retries", r.qrMaxRetries)
		if handle != nil {
			ctx, cancel := context.WithTimeout(context.Background(), appendResponseTimeout)
			defer cancel()
			_ = handle.Close(ctx)
		}
		r.relay.Emit(sessionID, relay.Error{Message: ErrSessionAbandoned.Error()})
		return
	}

	r.relay.Emit(sessionID, relay.QR{Code: code})
}

func (r *Registry) setAuthenticated(sessionID string) {
	r.mu.Lock()
	if s, ok := r.sessions[sessionID]; ok {
		s.authed = true
	}
	r.mu.Unlock()
	slog.Info("session authenticated", "session", sessionID)
}

func (r *Registry) setReady(sessionID string) {
	r.mu.Lock()
	if s, ok := r.sessions[sessionID]; ok {
		s.ready = true
		s.qrRetries = 0
	}
	r.mu.Unlock()

	slog.Info("session ready", "session", sessionID)
	r.relay.Emit(sessionID, relay.Ready{})
}

func (r *Registry) onMessage(sessionID, from, body string) {
	r.mu.Lock()
	var queueID int64
	if s, ok := r.sessions[sessionID]; ok {
		queueID = s.currentQueueID
	}
	r.mu.Unlock()

	// Appending to the ledger is best-effort: a miss (no matching
	// recipient, store down) must not take the session with it.
	if queueID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), appendResponseTimeout)
		defer cancel()
		if _, err := r.recipients.AppendResponse(ctx, queueID, from, body); err != nil {
			slog.Warn("inbound reply not recorded", "session", sessionID, "queue", queueID, "err", err)
		}
	}

	r.relay.Emit(sessionID, relay.ResponseReceived{PhoneNumber: from, Response: body})
}

func (r *Registry) onDisconnected(sessionID, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	slog.Info("session disconnected", "session", sessionID, "reason", reason)
	if s.transport != nil {
		ctx, cancel := context.WithTimeout(context.Background(), appendResponseTimeout)
		defer cancel()
		_ = s.transport.Close(ctx)
	}
}

// IsAuthenticated reports whether the session exists and has completed
// provider authentication.
func (r *Registry) IsAuthenticated(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return ok && s.authed
}

// Disconnect tears down and removes the session. Returns whether anything
// was removed; a second call is a no-op, not an error.
func (r *Registry) Disconnect(ctx context.Context, sessionID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if s.transport != nil {
		_ = s.transport.Close(ctx)
	}
	slog.Info("session removed", "session", sessionID)
	return true
}

// Shutdown releases every live transport handle.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	handles := make([]transport.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.transport != nil {
			handles = append(handles, s.transport)
		}
	}
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	for _, h := range handles {
		_ = h.Close(ctx)
	}
}

// Claim checks the dispatch preconditions and marks the session as
// running queueID in one critical section. There is no window between the
// check and the set: two concurrent claims for the same session cannot
// both succeed.
func (r *Registry) Claim(sessionID string, queueID int64) (transport.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.transport == nil {
		return nil, ErrUnknownSession
	}
	if !s.authed || !s.ready {
		return nil, ErrNotReady
	}
	if s.inProgress {
		return nil, ErrAlreadyRunning
	}
	if s.paused {
		return nil, ErrPaused
	}

	s.inProgress = true
	s.currentQueueID = queueID
	return s.transport, nil
}

// Release clears the in-progress flag after a batch. The queue binding is
// kept so pause/resume can still find the session.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	if s, ok := r.sessions[sessionID]; ok {
		s.inProgress = false
	}
	r.mu.Unlock()
}

// IsPaused is sampled by the dispatch loop before each send.
func (r *Registry) IsPaused(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return ok && s.paused
}

// Idle reports whether the session is ready for a new dispatch run.
func (r *Registry) Idle(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return ok && s.authed && s.ready && !s.inProgress && !s.paused
}

// PauseByQueue marks the session bound to queueID as paused and clears
// its in-progress flag so the loop stops at the next send boundary.
// Idempotent if no session is bound to the queue.
func (r *Registry) PauseByQueue(queueID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.currentQueueID == queueID {
			s.paused = true
			s.inProgress = false
			return true
		}
	}
	return false
}

// StopByQueue interrupts a running loop the same way a pause does. With
// no loop running there is nothing to interrupt, so a stale pause on the
// binding is cleared instead; the terminal queue status is what blocks
// restarts.
func (r *Registry) StopByQueue(queueID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.currentQueueID == queueID {
			if s.inProgress {
				s.paused = true
				s.inProgress = false
			} else {
				s.paused = false
			}
			return true
		}
	}
	return false
}

// ResumeByQueue clears the paused flag. It does not restart the loop,
// that takes a fresh process call.
func (r *Registry) ResumeByQueue(queueID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.currentQueueID == queueID {
			s.paused = false
			return true
		}
	}
	return false
}
