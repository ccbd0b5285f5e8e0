package whatsapp

import (
	"bytes"
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/talkincode/wagate/pkg/metrics"
	"go.uber.org/zap"
)

// DefaultPoolSize bounds concurrent session starts.
const DefaultPoolSize = 16

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The supervisor uses it for reconnect delays.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SlotRepository persists slot definitions and their last known status.
type SlotRepository interface {
	SaveSlot(ctx context.Context, slot Slot) error
	DeleteSlot(ctx context.Context, id string) error
	ListSlots(ctx context.Context) ([]Slot, error)
	SaveStatus(ctx context.Context, status SlotStatus) error
}

// SupervisorOptions wires a Supervisor.
type SupervisorOptions struct {
	Transports  TransportFactory
	Credentials CredentialStore
	Events      Publisher
	// Repository is optional; without it slots live only in memory.
	Repository SlotRepository
	Backoff    Backoff
	PoolSize   int
	Scheduler  Scheduler
	// Rand returns a sample in [0,1) used for backoff jitter.
	Rand func() float64
	Now  func() time.Time
}

type slotEntry struct {
	session  *Session
	timer    Timer
	attempts int
}

// Supervisor owns one Session per configured slot, routes sends to them and
// reopens sessions that dropped for a transient reason.
type Supervisor struct {
	opts   SupervisorOptions
	pool   *ants.Pool
	ctx    context.Context
	cancel context.CancelFunc

	// cfgMu orders slot definition changes together with their persistence.
	cfgMu sync.Mutex

	mu     sync.RWMutex
	slots  map[string]*slotEntry
	closed bool
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.Transports == nil || opts.Credentials == nil {
		return nil, errors.New("whatsapp: supervisor requires a transport factory and a credential store")
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.Scheduler == nil {
		opts.Scheduler = systemScheduler{}
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Backoff = opts.Backoff.normalized()

	pool, err := ants.NewPool(opts.PoolSize, ants.WithPanicHandler(func(p interface{}) {
		zap.L().Error("whatsapp: session task panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, errors.Wrap(err, "create session pool")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		opts:   opts,
		pool:   pool,
		ctx:    ctx,
		cancel: cancel,
		slots:  make(map[string]*slotEntry),
	}, nil
}

// Configure adds a slot and starts its session. Configuring an id that is
// already present is a no-op. Secret options are moved into the slot's
// credential record before the slot is stored or started.
func (s *Supervisor) Configure(ctx context.Context, slot Slot) error {
	if slot.ID == "" || !slot.Mode.Valid() {
		return errors.Wrapf(ErrInvalidRequest, "slot %q mode %q", slot.ID, slot.Mode)
	}
	if slot.Name == "" {
		slot.Name = slot.ID
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	s.mu.RLock()
	closed := s.closed
	_, exists := s.slots[slot.ID]
	s.mu.RUnlock()
	if closed {
		return ErrTerminated
	}
	if exists {
		return nil
	}

	if seeder, ok := s.opts.Transports.(CredentialSeeder); ok && slot.HasSecrets() {
		if err := s.seedCredentials(ctx, seeder, slot); err != nil {
			return err
		}
		slot = slot.Public()
	}
	if s.opts.Repository != nil {
		if err := s.opts.Repository.SaveSlot(ctx, slot); err != nil {
			zap.L().Warn("whatsapp: persist slot failed", zap.String("slot", slot.ID), zap.Error(err))
		}
	}

	sess := NewSession(slot, SessionDeps{
		Transports:  s.opts.Transports,
		Credentials: s.opts.Credentials,
		Events:      s.opts.Events,
		Now:         s.opts.Now,
	})
	sess.observer = s
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrTerminated
	}
	s.slots[slot.ID] = &slotEntry{session: sess}
	s.mu.Unlock()

	zap.L().Info("whatsapp: slot configured", zap.String("slot", slot.ID), zap.String("mode", string(slot.Mode)))
	s.submit(sess)
	return nil
}

func (s *Supervisor) seedCredentials(ctx context.Context, seeder CredentialSeeder, slot Slot) error {
	current, err := s.opts.Credentials.Load(ctx, slot.ID)
	if err != nil {
		return errors.Wrapf(err, "load credentials of %s", slot.ID)
	}
	record, err := seeder.SeedCredentials(slot, current)
	if err != nil {
		return errors.Wrapf(ErrInvalidRequest, "slot %s: %v", slot.ID, err)
	}
	if bytes.Equal(record, current) {
		return nil
	}
	if err := s.opts.Credentials.Save(ctx, slot.ID, record); err != nil {
		return errors.Wrapf(err, "store credentials of %s", slot.ID)
	}
	zap.L().Info("whatsapp: slot secrets moved to credential store", zap.String("slot", slot.ID))
	return nil
}

// Deconfigure removes a slot, cancels any pending reconnect and stops its
// session. Stored credentials are kept.
func (s *Supervisor) Deconfigure(ctx context.Context, id string) error {
	s.cfgMu.Lock()
	s.mu.Lock()
	entry, ok := s.slots[id]
	if !ok {
		s.mu.Unlock()
		s.cfgMu.Unlock()
		return ErrUnknownSlot
	}
	delete(s.slots, id)
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	s.mu.Unlock()
	if s.opts.Repository != nil {
		if err := s.opts.Repository.DeleteSlot(ctx, id); err != nil {
			zap.L().Warn("whatsapp: delete slot record failed", zap.String("slot", id), zap.Error(err))
		}
	}
	s.cfgMu.Unlock()

	entry.session.Stop()
	zap.L().Info("whatsapp: slot removed", zap.String("slot", id))
	return nil
}

// Status returns the current snapshot of a slot.
func (s *Supervisor) Status(id string) (SlotStatus, error) {
	sess := s.lookup(id)
	if sess == nil {
		return SlotStatus{}, ErrUnknownSlot
	}
	return sess.Status(), nil
}

// List returns snapshots of all slots ordered by id.
func (s *Supervisor) List() []SlotStatus {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.slots))
	for _, e := range s.slots {
		sessions = append(sessions, e.session)
	}
	s.mu.RUnlock()

	out := make([]SlotStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot.ID < out[j].Slot.ID })
	return out
}

// Send routes an outbound text to the slot's session.
func (s *Supervisor) Send(ctx context.Context, id, recipient, body string) error {
	sess := s.lookup(id)
	if sess == nil {
		return ErrUnknownSlot
	}
	return sess.Send(ctx, recipient, body)
}

// RequestPairing restarts a slot that is not connected so a fresh pairing
// payload is produced. Slots already connected or connecting are left alone.
func (s *Supervisor) RequestPairing(ctx context.Context, id string) error {
	s.mu.Lock()
	entry, ok := s.slots[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownSlot
	}
	sess := entry.session
	s.mu.Unlock()

	switch sess.State() {
	case StateConnected, StateConnecting, StateAwaitingPairing:
		return nil
	}

	s.mu.Lock()
	if cur, ok := s.slots[id]; ok && cur == entry {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
		entry.attempts = 0
	}
	s.mu.Unlock()

	zap.L().Info("whatsapp: pairing requested", zap.String("slot", id))
	s.submit(sess)
	return nil
}

// Restore configures seed slots followed by every slot found in the
// repository. Seeds win over stored definitions with the same id.
func (s *Supervisor) Restore(ctx context.Context, seed []Slot) error {
	slots := append([]Slot(nil), seed...)
	if s.opts.Repository != nil {
		stored, err := s.opts.Repository.ListSlots(ctx)
		if err != nil {
			return errors.Wrap(err, "list stored slots")
		}
		slots = append(slots, stored...)
	}
	var firstErr error
	for _, slot := range slots {
		if err := s.Configure(ctx, slot); err != nil {
			zap.L().Error("whatsapp: restore slot failed", zap.String("slot", slot.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	zap.L().Info("whatsapp: slots restored", zap.Int("count", len(s.List())))
	return firstErr
}

// SnapshotStatuses writes every slot status to the repository.
func (s *Supervisor) SnapshotStatuses(ctx context.Context) error {
	if s.opts.Repository == nil {
		return nil
	}
	for _, st := range s.List() {
		if err := s.opts.Repository.SaveStatus(ctx, st); err != nil {
			return errors.Wrapf(err, "save status of %s", st.Slot.ID)
		}
	}
	return nil
}

// Running reports how many session tasks are executing right now.
func (s *Supervisor) Running() int {
	return s.pool.Running()
}

// Shutdown stops every session and releases the worker pool.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := s.slots
	s.slots = make(map[string]*slotEntry)
	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.session.Stop()
	}
	s.cancel()
	s.pool.Release()
	zap.L().Info("whatsapp: supervisor stopped", zap.Int("slots", len(entries)))
}

func (s *Supervisor) lookup(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.slots[id]; ok {
		return e.session
	}
	return nil
}

func (s *Supervisor) submit(sess *Session) {
	err := s.pool.Submit(func() {
		if err := sess.Start(s.ctx); err != nil && !errors.Is(err, ErrTerminated) {
			zap.L().Warn("whatsapp: session start failed", zap.String("slot", sess.Slot().ID), zap.Error(err))
		}
	})
	if err != nil {
		zap.L().Error("whatsapp: submit session start failed", zap.String("slot", sess.Slot().ID), zap.Error(err))
	}
}

// current returns the entry for sess if it is still the live session of its
// slot. Callers hold mu.
func (s *Supervisor) current(sess *Session) *slotEntry {
	if s.closed {
		return nil
	}
	e, ok := s.slots[sess.Slot().ID]
	if !ok || e.session != sess {
		return nil
	}
	return e
}

func (s *Supervisor) sessionConnected(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.current(sess); e != nil {
		e.attempts = 0
	}
}

func (s *Supervisor) sessionClosed(sess *Session, reason DisconnectReason) {
	id := sess.Slot().ID
	if Decide(reason) == GiveUp {
		zap.L().Info("whatsapp: not reconnecting", zap.String("slot", id), zap.String("reason", string(reason)))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.current(sess)
	if e == nil {
		return
	}
	if s.opts.Backoff.Exhausted(e.attempts) {
		zap.L().Warn("whatsapp: reconnect attempts exhausted", zap.String("slot", id), zap.Int("attempts", e.attempts))
		return
	}
	delay := s.opts.Backoff.Delay(e.attempts, s.opts.Rand())
	e.attempts++
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = s.opts.Scheduler.AfterFunc(delay, func() { s.reconnect(sess) })
	zap.L().Info("whatsapp: reconnect scheduled",
		zap.String("slot", id),
		zap.Int("attempt", e.attempts),
		zap.Duration("delay", delay))
}

func (s *Supervisor) reconnect(sess *Session) {
	s.mu.Lock()
	e := s.current(sess)
	if e == nil {
		s.mu.Unlock()
		return
	}
	e.timer = nil
	s.mu.Unlock()

	metrics.Inc("whatsapp_reconnects")
	s.submit(sess)
}
