package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ruleta/internal/events"
	"ruleta/internal/metrics"
)

const (
	DefaultTickInterval = time.Second
	settleTimeout       = 30 * time.Second
)

type ClockConfig struct {
	GameSlug  string
	Durations Durations
	Tick      time.Duration
	// StoreTimeout bounds each persistence call made from a tick.
	StoreTimeout time.Duration
}

// Clock owns the live round of one game and is the only writer of its phase
// and outcome. Ticks run sequentially on the goroutine that calls Run.
type Clock struct {
	cfg       ClockConfig
	store     RoundStore
	sinks     Broadcasters
	settler   *Settler
	publisher events.Publisher
	log       *zap.Logger

	now   func() time.Time
	draw  func() int
	newID func() string

	mu      sync.RWMutex
	gameID  string
	current *Round

	settling sync.WaitGroup
}

type ClockOption func(*Clock)

func WithBroadcaster(b Broadcaster) ClockOption {
	return func(c *Clock) { c.sinks = append(c.sinks, b) }
}

// WithSettler makes the clock settle pending wagers after each resolution and
// sweep orphaned wagers on start.
func WithSettler(s *Settler) ClockOption {
	return func(c *Clock) { c.settler = s }
}

func WithClockPublisher(p events.Publisher) ClockOption {
	return func(c *Clock) { c.publisher = p }
}

func WithTick(d time.Duration) ClockOption {
	return func(c *Clock) {
		if d > 0 {
			c.cfg.Tick = d
		}
	}
}

func WithNow(now func() time.Time) ClockOption {
	return func(c *Clock) { c.now = now }
}

func WithDraw(draw func() int) ClockOption {
	return func(c *Clock) { c.draw = draw }
}

func NewClock(cfg ClockConfig, store RoundStore, log *zap.Logger, opts ...ClockOption) *Clock {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTickInterval
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = cfg.Tick
	}
	c := &Clock{
		cfg:       cfg,
		store:     store,
		publisher: events.NopPublisher{},
		log:       log.Named("clock"),
		now:       time.Now,
		draw:      DrawNumber,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start resolves the game id, settles leftovers from a previous process and
// opens the first round. Any error here is fatal for the caller.
func (c *Clock) Start(ctx context.Context) error {
	gameID, err := c.store.GameIDBySlug(ctx, c.cfg.GameSlug)
	if err != nil {
		return fmt.Errorf("resolve game %q: %w", c.cfg.GameSlug, err)
	}

	c.mu.Lock()
	c.gameID = gameID
	c.mu.Unlock()

	if c.settler != nil {
		if _, err := c.settler.SweepOrphans(ctx, gameID); err != nil {
			c.log.Error("orphan sweep failed", zap.Error(err))
		}
	}

	now := c.now()
	round := NewRound(c.newID(), gameID, now, c.cfg.Durations)
	if err := c.store.InsertRound(ctx, *round); err != nil {
		return fmt.Errorf("create first round: %w", err)
	}

	c.mu.Lock()
	c.current = round
	c.mu.Unlock()

	metrics.RoundTransitions.WithLabelValues(string(PhaseOpen)).Inc()
	c.log.Info("round clock started",
		zap.String("game_id", gameID),
		zap.String("round_id", round.ID),
		zap.Duration("open", c.cfg.Durations.Open),
		zap.Duration("closed", c.cfg.Durations.Closed),
		zap.Duration("resolve", c.cfg.Durations.Resolve))

	c.broadcast(now)
	return nil
}

// Run ticks until ctx is cancelled. It never stops on a failed tick. Before
// returning it waits for settlements started by its ticks, so once Run has
// returned the clock no longer touches the store.
func (c *Clock) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.settling.Wait()
			c.log.Info("round clock stopped")
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick applies at most one phase transition and then broadcasts the snapshot.
func (c *Clock) Tick(ctx context.Context) {
	started := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(started).Seconds()) }()

	now := c.now()

	c.mu.RLock()
	var phase Phase
	var closesAt, resolvesAt, endsAt time.Time
	if c.current != nil {
		phase = c.current.Phase
		closesAt, resolvesAt, endsAt = c.current.ClosesAt, c.current.ResolvesAt, c.current.EndsAt
	}
	c.mu.RUnlock()

	switch {
	case phase == PhaseOpen && !now.Before(closesAt):
		c.close(ctx, now)
	case phase == PhaseClosed && !now.Before(resolvesAt):
		c.resolve(ctx, now)
	case phase == PhaseResolved && !now.Before(endsAt):
		c.rotate(ctx, now)
	}

	c.broadcast(now)
}

func (c *Clock) close(ctx context.Context, now time.Time) {
	c.mu.Lock()
	c.current.Phase = PhaseClosed
	c.current.ClosedAt = now
	roundID := c.current.ID
	c.mu.Unlock()

	metrics.RoundTransitions.WithLabelValues(string(PhaseClosed)).Inc()
	c.persist(ctx, "close", roundID, func(ctx context.Context) error {
		return c.store.MarkClosed(ctx, roundID, now)
	})
}

func (c *Clock) resolve(ctx context.Context, now time.Time) {
	outcome, err := OutcomeFor(c.draw())
	if err != nil {
		// A bad draw leaves the round closed; the next tick draws again.
		c.log.Error("invalid draw", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.current.Phase = PhaseResolved
	c.current.ResolvedAt = now
	c.current.Outcome = &outcome
	round := *c.current
	c.mu.Unlock()

	metrics.RoundTransitions.WithLabelValues(string(PhaseResolved)).Inc()
	c.log.Info("round resolved",
		zap.String("round_id", round.ID),
		zap.Int("number", outcome.Number),
		zap.String("color", string(outcome.Color)))

	c.persist(ctx, "resolve", round.ID, func(ctx context.Context) error {
		return c.store.MarkResolved(ctx, round.ID, outcome, now)
	})

	c.publishResolved(ctx, round)
	c.settle(ctx, round)
}

func (c *Clock) rotate(ctx context.Context, now time.Time) {
	c.mu.RLock()
	gameID := c.gameID
	c.mu.RUnlock()

	round := NewRound(c.newID(), gameID, now, c.cfg.Durations)

	c.mu.Lock()
	c.current = round
	c.mu.Unlock()

	metrics.RoundTransitions.WithLabelValues(string(PhaseOpen)).Inc()
	c.persist(ctx, "create", round.ID, func(ctx context.Context) error {
		return c.store.InsertRound(ctx, *round)
	})
}

// persist runs a store write under the per-tick timeout. Failures are logged
// and the in-memory round is kept as is.
func (c *Clock) persist(ctx context.Context, op, roundID string, write func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	if err := write(ctx); err != nil {
		metrics.StoreErrors.WithLabelValues(op).Inc()
		fields := []zap.Field{zap.String("op", op), zap.String("round_id", roundID), zap.Error(err)}
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn("round store timed out, continuing in memory", fields...)
			return
		}
		c.log.Error("round store write failed, continuing in memory", fields...)
	}
}

func (c *Clock) publishResolved(ctx context.Context, round Round) {
	o := round.Outcome
	evt := events.RoundResolved{
		RoundID:       round.ID,
		GameID:        round.GameID,
		WinningNumber: o.Number,
		Color:         string(o.Color),
		Parity:        optional(string(o.Parity)),
		Range:         optional(string(o.Range)),
		ResolvedAt:    round.ResolvedAt,
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()
	if err := c.publisher.Publish(ctx, events.TopicRoundResolved, round.GameID, evt); err != nil {
		c.log.Warn("publish round resolved", zap.String("round_id", round.ID), zap.Error(err))
	}
}

// settle runs off the tick goroutine so a slow ledger never delays the cadence.
func (c *Clock) settle(ctx context.Context, round Round) {
	if c.settler == nil {
		return
	}
	c.settling.Add(1)
	go func() {
		defer c.settling.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		defer cancel()
		if _, err := c.settler.Settle(ctx, round); err != nil {
			c.log.Error("settlement failed", zap.String("round_id", round.ID), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight settlements finish. It must not race with
// Tick: call it after the last Tick returned, or after Run returned.
func (c *Clock) Wait() {
	c.settling.Wait()
}

func (c *Clock) broadcast(now time.Time) {
	c.mu.RLock()
	gameID := c.gameID
	snapshot := EmptySnapshot()
	if c.current != nil {
		snapshot = c.current.Snapshot(now)
	}
	c.mu.RUnlock()

	c.sinks.BroadcastSnapshot(gameID, snapshot)
}

// Snapshot is the live view of the current round.
func (c *Clock) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return EmptySnapshot()
	}
	return c.current.Snapshot(c.now())
}

// Current returns a copy of the live round.
func (c *Clock) Current() (Round, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Round{}, false
	}
	r := *c.current
	if r.Outcome != nil {
		o := *r.Outcome
		r.Outcome = &o
	}
	return r, true
}

func (c *Clock) GameID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gameID
}
