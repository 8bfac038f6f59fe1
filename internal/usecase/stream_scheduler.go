package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"MTBridge/internal/domain/models"
	domrepo "MTBridge/internal/domain/repository"
	applogger "MTBridge/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval    = time.Second
	DefaultMaxParallel = 64
)

// MessageLimiter throttles inbound client messages per session.
type MessageLimiter interface {
	Allow(key string) bool
	Forget(key string)
}

type reply struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

var (
	ackReply         = mustReply(reply{Status: "subscribed"})
	invalidJSONReply = mustReply(reply{Error: "Invalid JSON"})
	rateLimitedReply = mustReply(reply{Error: "rate limited"})
)

func mustReply(r reply) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	return b
}

// SchedulerOption configures StreamScheduler.
type SchedulerOption func(*StreamScheduler)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *StreamScheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxParallel bounds how many sessions are served concurrently per tick.
func WithMaxParallel(n int) SchedulerOption {
	return func(s *StreamScheduler) {
		if n > 0 {
			s.maxParallel = n
		}
	}
}

// WithMessageLimiter throttles subscription messages per session.
func WithMessageLimiter(l MessageLimiter) SchedulerOption {
	return func(s *StreamScheduler) {
		s.limiter = l
	}
}

// WithSchedulerLogger injects a structured logger.
func WithSchedulerLogger(l *applogger.Logger) SchedulerOption {
	return func(s *StreamScheduler) {
		s.l = l
	}
}

// StreamScheduler drives the periodic push loop and owns the session lifecycle.
type StreamScheduler struct {
	source   domrepo.MarketDataSource
	registry *SessionRegistry
	builder  *PayloadBuilder
	parser   *SubscriptionParser
	metrics  domrepo.Metrics
	limiter  MessageLimiter
	l        *applogger.Logger

	interval    time.Duration
	maxParallel int

	ticks sync.WaitGroup
}

func NewStreamScheduler(
	source domrepo.MarketDataSource,
	registry *SessionRegistry,
	builder *PayloadBuilder,
	parser *SubscriptionParser,
	metrics domrepo.Metrics,
	opts ...SchedulerOption,
) *StreamScheduler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	s := &StreamScheduler{
		source:      source,
		registry:    registry,
		builder:     builder,
		parser:      parser,
		metrics:     metrics,
		interval:    DefaultInterval,
		maxParallel: DefaultMaxParallel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the session registry, e.g. for health reporting.
func (s *StreamScheduler) Registry() *SessionRegistry { return s.registry }

// Source exposes the configured market data source.
func (s *StreamScheduler) Source() domrepo.MarketDataSource { return s.source }

// Interval is the configured tick period.
func (s *StreamScheduler) Interval() time.Duration { return s.interval }

// Connect registers a new session for conn.
func (s *StreamScheduler) Connect(conn domrepo.ClientConn) *Session {
	sess := NewSession(conn)
	s.registry.Add(sess)
	s.metrics.SetActiveSessions(s.registry.Len())
	if s.l != nil {
		s.l.Info("session connected", applogger.String("session", sess.ID()))
	}
	return sess
}

// OnMessage applies a subscription message to the session. A message that does
// not parse leaves the previous subscription and delivery history untouched.
func (s *StreamScheduler) OnMessage(sess *Session, raw []byte) {
	if _, ok := s.registry.Get(sess.ID()); !ok {
		return
	}

	if s.limiter != nil && !s.limiter.Allow(sess.ID()) {
		s.metrics.RecordError("rate_limited")
		s.replyOrDrop(sess, rateLimitedReply)
		return
	}

	specs, err := s.parser.Parse(raw)
	if err != nil {
		s.metrics.RecordError("parse")
		if s.l != nil {
			s.l.Debug("subscription rejected",
				applogger.String("session", sess.ID()),
				applogger.Error(err),
			)
		}
		s.replyOrDrop(sess, errorReply(err))
		return
	}

	if err := sess.Subscribe(specs, ackReply); err != nil {
		s.drop(sess, err)
		return
	}
	if s.l != nil {
		s.l.Info("session subscribed",
			applogger.String("session", sess.ID()),
			applogger.Int("symbols", len(specs)),
		)
	}
}

// OnDisconnect removes the session. It is safe to call more than once.
func (s *StreamScheduler) OnDisconnect(id string) {
	sess, ok := s.registry.Remove(id)
	if !ok {
		return
	}
	_ = sess.Close()
	if s.limiter != nil {
		s.limiter.Forget(id)
	}
	s.metrics.SetActiveSessions(s.registry.Len())
	if s.l != nil {
		s.l.Info("session disconnected", applogger.String("session", id))
	}
}

// Run ticks until ctx is done. Each tick runs in its own goroutine so one slow
// session cannot delay the cadence for others.
func (s *StreamScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.ticks.Wait()

	if s.l != nil {
		s.l.Info("stream scheduler started", applogger.Duration("interval_ms", s.interval))
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ticks.Add(1)
			go func() {
				defer s.ticks.Done()
				s.Tick(ctx)
			}()
		}
	}
}

// Tick serves every registered session once and waits for them to finish.
func (s *StreamScheduler) Tick(ctx context.Context) {
	start := time.Now()
	sessions := s.registry.Snapshot()
	if len(sessions) == 0 {
		return
	}

	src := newTickSource(s.source)
	var g errgroup.Group
	g.SetLimit(s.maxParallel)
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			s.serve(ctx, src, sess)
			return nil
		})
	}
	_ = g.Wait()
	s.metrics.RecordLatency("tick", time.Since(start).Seconds())
}

// Shutdown closes every session.
func (s *StreamScheduler) Shutdown() {
	for _, sess := range s.registry.Snapshot() {
		s.OnDisconnect(sess.ID())
	}
}

func (s *StreamScheduler) serve(ctx context.Context, src domrepo.MarketDataSource, sess *Session) {
	if !sess.tryAcquire() {
		s.metrics.RecordError("session_busy")
		return
	}
	defer sess.release()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordError("panic")
			if s.l != nil {
				s.l.Error("session tick panic",
					applogger.String("session", sess.ID()),
					applogger.Any("panic", fmt.Sprint(r)),
				)
			}
		}
	}()

	v := sess.view()
	if len(v.specs) == 0 {
		return
	}

	payloads := make([]models.SymbolPayload, 0, len(v.specs))
	next := make(map[string]models.DeliveryStates, len(v.specs))
	for _, spec := range v.specs {
		p, st := s.builder.Build(ctx, spec, v.states[spec.Symbol], src)
		payloads = append(payloads, p)
		next[spec.Symbol] = st
	}

	msg, err := json.Marshal(payloads)
	if err != nil {
		s.metrics.RecordError("marshal")
		if s.l != nil {
			s.l.Error("payload marshal failed", applogger.String("session", sess.ID()), applogger.Error(err))
		}
		return
	}

	sent, err := sess.deliver(v.generation, msg, next)
	if err != nil {
		s.drop(sess, err)
		return
	}
	if !sent {
		return
	}
	s.metrics.RecordPayloadSent(len(msg))
	for _, p := range payloads {
		for _, tc := range p.Timeframes {
			if len(tc.Candles) > 0 {
				s.metrics.RecordCandlesSent(tc.Timeframe.String(), len(tc.Candles))
			}
		}
	}
}

func (s *StreamScheduler) replyOrDrop(sess *Session, msg []byte) {
	if err := sess.Reply(msg); err != nil {
		s.drop(sess, err)
	}
}

func (s *StreamScheduler) drop(sess *Session, err error) {
	s.metrics.RecordError("transport")
	if s.l != nil && !errors.Is(err, ErrSessionClosed) {
		s.l.Warn("dropping session",
			applogger.String("session", sess.ID()),
			applogger.Error(err),
		)
	}
	s.OnDisconnect(sess.ID())
}

func errorReply(err error) []byte {
	var pe *ParseError
	if errors.As(err, &pe) {
		return mustReply(reply{Error: "Invalid JSON", Detail: pe.Error()})
	}
	return invalidJSONReply
}
