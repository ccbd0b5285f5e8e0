package whatsapp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/wagate/pkg/metrics"
	"go.uber.org/zap"
)

// credentialTimeout bounds a single credential write triggered by a transport callback.
const credentialTimeout = 15 * time.Second

// Publisher receives events emitted by sessions.
type Publisher interface {
	Publish(ev Event)
}

// sessionObserver is notified after a session settles into Connected or
// Disconnected. Calls happen outside the session lock.
type sessionObserver interface {
	sessionConnected(s *Session)
	sessionClosed(s *Session, reason DisconnectReason)
}

// SessionDeps are the collaborators of a Session.
type SessionDeps struct {
	Transports  TransportFactory
	Credentials CredentialStore
	Events      Publisher
	// Now defaults to time.Now.
	Now func() time.Time
}

// Session is the connection state machine of one slot. Transitions and
// event emission are serialized by mu; sends hold the read side so a send
// never straddles a transition.
type Session struct {
	slot     Slot
	deps     SessionDeps
	observer sessionObserver
	logger   *zap.Logger

	mu        sync.RWMutex
	state     State
	transport Transport
	gen       uint64
	qr        string
	reason    DisconnectReason

	snapshot atomic.Pointer[SlotStatus]
}

// NewSession creates an Idle session for slot.
func NewSession(slot Slot, deps SessionDeps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Session{
		slot:   slot,
		deps:   deps,
		logger: zap.L().With(zap.String("slot", slot.ID)),
	}
	s.publishSnapshot()
	return s
}

// Slot returns the slot this session serves.
func (s *Session) Slot() Slot { return s.slot }

// Status returns the latest snapshot without taking the session lock.
func (s *Session) Status() SlotStatus {
	return *s.snapshot.Load()
}

// State returns the current internal state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start loads credentials, opens a fresh transport and moves to Connecting.
// It is a no-op while the session is already connecting or connected.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateTerminated:
		s.mu.Unlock()
		return ErrTerminated
	case StateConnecting, StateAwaitingPairing, StateConnected:
		s.mu.Unlock()
		return nil
	}

	creds, err := s.deps.Credentials.Load(ctx, s.slot.ID)
	if err != nil {
		s.logger.Error("whatsapp: load credentials failed", zap.Error(err))
		s.failCredentialsLocked()
		s.mu.Unlock()
		s.notifyClosed(ReasonCredentialError)
		return errors.Wrap(err, "load credentials")
	}

	t, err := s.deps.Transports.NewTransport(s.slot)
	if err != nil {
		s.logger.Warn("whatsapp: create transport failed", zap.Error(err))
		s.disconnectLocked(ReasonTransient)
		s.mu.Unlock()
		s.notifyClosed(ReasonTransient)
		return errors.Wrap(err, "create transport")
	}

	s.gen++
	gen := s.gen
	s.transport = t
	s.qr = ""
	s.reason = ReasonNone
	s.transition(StateConnecting)
	s.emit(StatusChanged{Slot: s.slot.ID, Status: StatusConnecting, At: s.deps.Now()})
	s.mu.Unlock()

	s.logger.Info("whatsapp: session starting", zap.String("mode", string(s.slot.Mode)), zap.Bool("has_credentials", len(creds) > 0))
	if err := t.Open(ctx, creds, &sessionSink{s: s, gen: gen}); err != nil {
		s.logger.Warn("whatsapp: transport open failed", zap.Error(err))
		s.onClosed(gen, ReasonTransient)
		return errors.Wrap(err, "open transport")
	}
	return nil
}

// Stop terminates the session. Terminated is absorbing.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	prev := s.state
	t := s.transport
	s.transport = nil
	s.qr = ""
	s.transition(StateTerminated)
	if prev != StateIdle && prev != StateDisconnected {
		s.emit(StatusChanged{Slot: s.slot.ID, Status: StatusDisconnected, At: s.deps.Now()})
	}
	s.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			s.logger.Warn("whatsapp: transport close failed", zap.Error(err))
		}
	}
	s.logger.Info("whatsapp: session stopped", zap.String("from_state", prev.String()))
}

// Send delivers body to recipient if the session is connected. No transport
// I/O happens in any other state, and ErrNotConnected takes precedence over
// input validation.
func (s *Session) Send(ctx context.Context, recipient, body string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected || s.transport == nil {
		return ErrNotConnected
	}
	if recipient == "" || body == "" {
		return ErrInvalidRequest
	}
	if err := s.transport.Send(ctx, recipient, body); err != nil {
		metrics.Inc("whatsapp_send_failures")
		s.logger.Warn("whatsapp: send message failed", zap.Error(err), zap.String("jid", recipient))
		return &transportError{cause: err}
	}
	metrics.Inc("whatsapp_messages_out")
	s.logger.Info("whatsapp: message sent", zap.String("jid", recipient))
	return nil
}

func (s *Session) stale(gen uint64) bool {
	return gen != s.gen || s.state == StateTerminated
}

func (s *Session) onPairing(gen uint64, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(gen) || payload == "" {
		return
	}
	if s.state != StateConnecting && s.state != StateAwaitingPairing {
		s.logger.Debug("whatsapp: pairing payload ignored", zap.String("state", s.state.String()))
		return
	}
	s.qr = payload
	s.transition(StateAwaitingPairing)
	s.emit(StatusChanged{Slot: s.slot.ID, Status: StatusAwaitingScan, QRPayload: payload, At: s.deps.Now()})
	s.logger.Info("whatsapp: qr code event received", zap.Int("code_len", len(payload)))
}

func (s *Session) onOpened(gen uint64) {
	s.mu.Lock()
	if s.stale(gen) || (s.state != StateConnecting && s.state != StateAwaitingPairing) {
		s.mu.Unlock()
		return
	}
	s.qr = ""
	s.transition(StateConnected)
	s.emit(StatusChanged{Slot: s.slot.ID, Status: StatusConnected, At: s.deps.Now()})
	s.mu.Unlock()

	s.logger.Info("whatsapp: connected")
	if s.observer != nil {
		s.observer.sessionConnected(s)
	}
}

func (s *Session) onCredentials(gen uint64, creds []byte) {
	s.mu.Lock()
	if s.stale(gen) {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), credentialTimeout)
	err := s.deps.Credentials.Save(ctx, s.slot.ID, creds)
	cancel()
	if err == nil {
		s.mu.Unlock()
		s.logger.Debug("whatsapp: credentials persisted", zap.Int("size", len(creds)))
		return
	}

	s.logger.Error("whatsapp: persist credentials failed", zap.Error(err))
	t := s.transport
	s.transport = nil
	s.failCredentialsLocked()
	s.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	s.notifyClosed(ReasonCredentialError)
}

func (s *Session) onInbound(gen uint64, f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale(gen) {
		return
	}
	if s.state != StateConnected {
		s.logger.Debug("whatsapp: inbound frame outside connected state", zap.String("state", s.state.String()))
		return
	}
	if f.FromSelf {
		return
	}
	at := f.At
	if at.IsZero() {
		at = s.deps.Now()
	}
	switch f.Kind {
	case FrameMessage:
		metrics.Inc("whatsapp_messages_in")
		s.emit(MessageReceived{
			Slot:              s.slot.ID,
			ExternalID:        f.ID,
			SenderAddress:     f.From,
			SenderDisplayName: f.FromName,
			Body:              f.Body,
			ReceivedAt:        at,
		})
	case FrameCall:
		kind := f.CallKind
		if kind == "" {
			kind = CallVoice
		}
		metrics.Inc("whatsapp_calls_in")
		s.emit(CallReceived{
			Slot:            s.slot.ID,
			CallID:          f.ID,
			FromAddress:     f.From,
			FromDisplayName: f.FromName,
			CallKind:        kind,
			ReceivedAt:      at,
		})
	default:
		s.logger.Debug("whatsapp: unknown frame kind", zap.Int("kind", int(f.Kind)))
	}
}

func (s *Session) onClosed(gen uint64, reason DisconnectReason) {
	if reason == ReasonNone {
		reason = ReasonTransient
	}
	s.mu.Lock()
	if s.stale(gen) || s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	t := s.transport
	s.transport = nil
	if reason == ReasonLoggedOut {
		ctx, cancel := context.WithTimeout(context.Background(), credentialTimeout)
		if err := s.deps.Credentials.Delete(ctx, s.slot.ID); err != nil {
			s.logger.Warn("whatsapp: drop credentials after logout failed", zap.Error(err))
		}
		cancel()
	}
	s.disconnectLocked(reason)
	s.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	s.logger.Info("whatsapp: disconnected", zap.String("reason", string(reason)))
	s.notifyClosed(reason)
}

// disconnectLocked moves to Disconnected and emits the status change.
func (s *Session) disconnectLocked(reason DisconnectReason) {
	s.qr = ""
	s.reason = reason
	s.transition(StateDisconnected)
	s.emit(StatusChanged{Slot: s.slot.ID, Status: StatusDisconnected, Reason: reason, At: s.deps.Now()})
}

func (s *Session) failCredentialsLocked() {
	s.qr = ""
	s.reason = ReasonCredentialError
	s.transition(StateDisconnected)
	s.emit(StatusChanged{Slot: s.slot.ID, Status: StatusError, Reason: ReasonCredentialError, At: s.deps.Now()})
}

func (s *Session) notifyClosed(reason DisconnectReason) {
	if s.observer != nil {
		s.observer.sessionClosed(s, reason)
	}
}

func (s *Session) transition(to State) {
	s.logger.Debug("whatsapp: state transition", zap.String("from", s.state.String()), zap.String("to", to.String()))
	s.state = to
	s.publishSnapshot()
}

func (s *Session) publishSnapshot() {
	s.snapshot.Store(&SlotStatus{
		Slot:      s.slot.Public(),
		State:     s.state.String(),
		Status:    statusOf(s.state, s.reason),
		QRPayload: s.qr,
		Reason:    s.reason,
		Since:     s.deps.Now(),
	})
}

func (s *Session) emit(ev Event) {
	if s.deps.Events != nil {
		s.deps.Events.Publish(ev)
	}
}

func statusOf(state State, reason DisconnectReason) Status {
	switch state {
	case StateConnecting:
		return StatusConnecting
	case StateAwaitingPairing:
		return StatusAwaitingScan
	case StateConnected:
		return StatusConnected
	case StateDisconnected:
		if reason == ReasonCredentialError {
			return StatusError
		}
	}
	return StatusDisconnected
}

// sessionSink binds transport callbacks to the generation that opened them,
// so a superseded transport can never drive the session.
type sessionSink struct {
	s   *Session
	gen uint64
}

func (k *sessionSink) Pairing(payload string)          { k.s.onPairing(k.gen, payload) }
func (k *sessionSink) Opened()                         { k.s.onOpened(k.gen) }
func (k *sessionSink) CredentialsRotated(creds []byte) { k.s.onCredentials(k.gen, creds) }
func (k *sessionSink) Inbound(f Frame)                 { k.s.onInbound(k.gen, f) }
func (k *sessionSink) Closed(reason DisconnectReason)  { k.s.onClosed(k.gen, reason) }
