package whatsapp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type sentMessage struct {
	to, body string
}

type stubTransport struct {
	mu      sync.Mutex
	slot    Slot
	sink    Sink
	creds   []byte
	openErr error
	sendErr error
	sent    []sentMessage
	closed  int
	// sendAfterClose records sends that reached the transport once closed.
	sendAfterClose int
}

func (t *stubTransport) Open(_ context.Context, creds []byte, sink Sink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.creds = creds
	t.sink = sink
	return t.openErr
}

func (t *stubTransport) Send(_ context.Context, to, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed > 0 {
		t.sendAfterClose++
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, sentMessage{to: to, body: body})
	return nil
}

func (t *stubTransport) Close() error {
	t.mu.Lock()
	t.closed++
	t.mu.Unlock()
	return nil
}

func (t *stubTransport) Sink() Sink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sink
}

func (t *stubTransport) Sent() []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentMessage(nil), t.sent...)
}

func (t *stubTransport) Closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type stubFactory struct {
	mu         sync.Mutex
	transports map[string][]*stubTransport
	openErr    error
	sendErr    error
}

func newStubFactory() *stubFactory {
	return &stubFactory{transports: make(map[string][]*stubTransport)}
}

func (f *stubFactory) NewTransport(slot Slot) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &stubTransport{slot: slot, openErr: f.openErr, sendErr: f.sendErr}
	f.transports[slot.ID] = append(f.transports[slot.ID], t)
	return t, nil
}

func (f *stubFactory) setOpenErr(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

func (f *stubFactory) count(slotID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports[slotID])
}

func (f *stubFactory) last(slotID string) *stubTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.transports[slotID]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

// lastOpened returns the newest transport once Open has handed it a sink.
func (f *stubFactory) lastOpened(slotID string) *stubTransport {
	t := f.last(slotID)
	if t == nil || t.Sink() == nil {
		return nil
	}
	return t
}

type memCreds struct {
	mu      sync.Mutex
	data    map[string][]byte
	loadErr error
	saveErr error
	saves   int
	deletes int
}

func newMemCreds() *memCreds {
	return &memCreds{data: make(map[string][]byte)}
}

func (m *memCreds) Load(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.data[id], nil
}

func (m *memCreds) Save(_ context.Context, id string, creds []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.data[id] = append([]byte(nil), creds...)
	return nil
}

func (m *memCreds) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.data, id)
	return nil
}

func (m *memCreds) get(id string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[id]
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) statuses() []StatusChanged {
	var out []StatusChanged
	for _, ev := range r.all() {
		if sc, ok := ev.(StatusChanged); ok {
			out = append(out, sc)
		}
	}
	return out
}

func (r *recorder) lastStatus() StatusChanged {
	st := r.statuses()
	if len(st) == 0 {
		return StatusChanged{}
	}
	return st[len(st)-1]
}

type observerLog struct {
	mu        sync.Mutex
	connected int
	closed    []DisconnectReason
}

func (o *observerLog) sessionConnected(*Session) {
	o.mu.Lock()
	o.connected++
	o.mu.Unlock()
}

func (o *observerLog) sessionClosed(_ *Session, reason DisconnectReason) {
	o.mu.Lock()
	o.closed = append(o.closed, reason)
	o.mu.Unlock()
}

func (o *observerLog) closes() []DisconnectReason {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]DisconnectReason(nil), o.closed...)
}

type fakeTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (t *fakeTimer) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

// fire runs the callback as the runtime would, unless stopped.
func (t *fakeTimer) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.fn()
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{delay: d, fn: f}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	return t
}

func (s *fakeScheduler) all() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeTimer(nil), s.timers...)
}

func (s *fakeScheduler) pending() []*fakeTimer {
	var out []*fakeTimer
	for _, t := range s.all() {
		if t.active() {
			out = append(out, t)
		}
	}
	return out
}

type memRepo struct {
	mu       sync.Mutex
	slots    map[string]Slot
	statuses map[string]SlotStatus
	listErr  error
}

func newMemRepo(seed ...Slot) *memRepo {
	r := &memRepo{slots: make(map[string]Slot), statuses: make(map[string]SlotStatus)}
	for _, s := range seed {
		r.slots[s.ID] = s
	}
	return r
}

func (r *memRepo) SaveSlot(_ context.Context, slot Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[slot.ID] = slot
	return nil
}

func (r *memRepo) DeleteSlot(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, id)
	return nil
}

func (r *memRepo) ListSlots(context.Context) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]Slot, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) SaveStatus(_ context.Context, st SlotStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[st.Slot.ID] = st
	return nil
}

func (r *memRepo) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.slots[id]
	return ok
}

var errBoom = errors.New("boom")

func qrSlot(id string) Slot {
	return Slot{ID: id, Name: id, Mode: ModeQRPairing}
}
