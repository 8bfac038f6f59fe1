package usecase

import (
	"errors"
	"sync"
	"sync/atomic"

	"MTBridge/internal/domain/models"
	domrepo "MTBridge/internal/domain/repository"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned when writing to a session that was already torn down.
var ErrSessionClosed = errors.New("session closed")

// Session is one connected client: its subscription, its delivery history and its transport.
//
// The subscription and delivery states change only under mu. Every subscription
// change bumps generation, so a payload computed against an older subscription
// is discarded instead of delivered.
type Session struct {
	id   string
	conn domrepo.ClientConn

	mu         sync.Mutex
	specs      []models.SubscriptionSpec
	states     map[string]models.DeliveryStates
	generation uint64

	alive     atomic.Bool
	busy      atomic.Bool
	closeOnce sync.Once
}

func NewSession(conn domrepo.ClientConn) *Session {
	s := &Session{
		id:     uuid.NewString(),
		conn:   conn,
		states: make(map[string]models.DeliveryStates),
	}
	s.alive.Store(true)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Alive() bool { return s.alive.Load() }

// Subscription returns the current subscription. Callers must not modify it.
func (s *Session) Subscription() []models.SubscriptionSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.specs
}

// DeliveryState returns the last delivered candle time for symbol/tf.
func (s *Session) DeliveryState(symbol string, tf models.Timeframe) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.states[symbol][tf]
	return t, ok
}

// Subscribe replaces the subscription wholesale, resets delivery history and
// writes ack to the client, all as one step relative to tick deliveries.
func (s *Session) Subscribe(specs []models.SubscriptionSpec, ack []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Alive() {
		return ErrSessionClosed
	}
	s.specs = specs
	s.states = make(map[string]models.DeliveryStates, len(specs))
	s.generation++
	if ack == nil {
		return nil
	}
	return s.conn.Send(ack)
}

// Reply writes a control message without touching subscription state.
func (s *Session) Reply(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Alive() {
		return ErrSessionClosed
	}
	return s.conn.Send(msg)
}

type sessionView struct {
	generation uint64
	specs      []models.SubscriptionSpec
	states     map[string]models.DeliveryStates
}

func (s *Session) view() sessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[string]models.DeliveryStates, len(s.states))
	for sym, st := range s.states {
		states[sym] = st.Clone()
	}
	return sessionView{generation: s.generation, specs: s.specs, states: states}
}

// deliver writes msg and commits states if the subscription is still the one
// the payload was computed for. It reports whether msg was written.
func (s *Session) deliver(generation uint64, msg []byte, states map[string]models.DeliveryStates) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Alive() {
		return false, ErrSessionClosed
	}
	if generation != s.generation {
		return false, nil
	}
	if err := s.conn.Send(msg); err != nil {
		return false, err
	}
	for sym, st := range states {
		s.states[sym] = st
	}
	return true, nil
}

// tryAcquire marks the session busy for one tick. It fails while a previous tick still runs.
func (s *Session) tryAcquire() bool { return s.busy.CompareAndSwap(false, true) }

func (s *Session) release() { s.busy.Store(false) }

// Close marks the session dead and closes its transport once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.alive.Store(false)
		err = s.conn.Close()
	})
	return err
}
