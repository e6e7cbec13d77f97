package game_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"ruleta/internal/events"
	"ruleta/internal/game"
	"ruleta/internal/game/gametest"
)

var durations = game.Durations{Open: 25 * time.Second, Closed: 8 * time.Second, Resolve: 6 * time.Second}

type clockFixture struct {
	clock    *game.Clock
	store    *gametest.MemoryStore
	time     *gametest.ManualClock
	recorder *gametest.Recorder
	gameID   string
}

func newClockFixture(t *testing.T, opts ...game.ClockOption) *clockFixture {
	t.Helper()
	return newClockFixtureWithStore(t, gametest.NewMemoryStore(), opts...)
}

func (f *clockFixture) start(t *testing.T) {
	t.Helper()
	if err := f.clock.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

// tickAt moves time to start+offset and ticks once.
func (f *clockFixture) tickAt(t *testing.T, start time.Time, offset time.Duration) game.Snapshot {
	t.Helper()
	f.time.Advance(start.Add(offset).Sub(f.time.Now()))
	f.clock.Tick(context.Background())
	s, ok := f.recorder.Last()
	if !ok {
		t.Fatal("no snapshot broadcast")
	}
	return s
}

func TestClock_Lifecycle(t *testing.T) {
	f := newClockFixture(t)
	start := f.time.Now()
	f.start(t)

	first, ok := f.clock.Current()
	if !ok {
		t.Fatal("Current() returned no round after Start")
	}
	if first.Phase != game.PhaseOpen {
		t.Fatalf("Phase = %v, want %v", first.Phase, game.PhaseOpen)
	}
	if got := f.clock.GameID(); got != f.gameID {
		t.Errorf("GameID() = %v, want %v", got, f.gameID)
	}
	if len(f.recorder.Snapshots()) != 1 {
		t.Errorf("Start() broadcast %d snapshots, want 1", len(f.recorder.Snapshots()))
	}

	s := f.tickAt(t, start, 24*time.Second)
	if s.Phase != game.PhaseOpen || s.SecondsRemaining != 1 {
		t.Errorf("t=24 snapshot = %v/%v, want abierta/1", s.Phase, s.SecondsRemaining)
	}

	s = f.tickAt(t, start, 25*time.Second)
	if s.Phase != game.PhaseClosed || s.SecondsRemaining != 8 {
		t.Errorf("t=25 snapshot = %v/%v, want cerrada/8", s.Phase, s.SecondsRemaining)
	}
	if s.WinningNumber != nil {
		t.Error("closed round has a winning number")
	}

	s = f.tickAt(t, start, 33*time.Second)
	if s.Phase != game.PhaseResolved {
		t.Fatalf("t=33 phase = %v, want resuelta", s.Phase)
	}
	if s.WinningNumber == nil || *s.WinningNumber != 17 {
		t.Fatalf("t=33 winning number = %v, want 17", s.WinningNumber)
	}
	if s.WinningColor == nil || *s.WinningColor != "azul" || *s.WinningParity != "impar" || *s.WinningRange != "1-18" {
		t.Errorf("t=33 labels = %v/%v/%v", *s.WinningColor, *s.WinningParity, *s.WinningRange)
	}

	s = f.tickAt(t, start, 36*time.Second)
	if s.WinningNumber == nil || *s.WinningNumber != 17 {
		t.Error("winning number changed within the resolved window")
	}

	s = f.tickAt(t, start, 39*time.Second)
	if s.Phase != game.PhaseOpen {
		t.Fatalf("t=39 phase = %v, want abierta", s.Phase)
	}
	if s.RoundID == nil || *s.RoundID == first.ID {
		t.Errorf("t=39 round id = %v, want a new id", s.RoundID)
	}
	if s.SecondsRemaining != 25 {
		t.Errorf("t=39 secondsRemaining = %v, want 25", s.SecondsRemaining)
	}

	rounds := f.store.Rounds()
	if len(rounds) != 2 {
		t.Fatalf("persisted %d rounds, want 2", len(rounds))
	}
	if rounds[0].Phase != game.PhaseResolved || rounds[0].Outcome == nil || rounds[0].Outcome.Number != 17 {
		t.Errorf("first round persisted as %+v", rounds[0])
	}
	if rounds[1].Phase != game.PhaseOpen {
		t.Errorf("second round persisted as %v", rounds[1].Phase)
	}
}

func TestClock_OneTransitionPerTick(t *testing.T) {
	f := newClockFixture(t)
	start := f.time.Now()
	f.start(t)

	// Far past every deadline: the round still walks through each phase.
	want := []game.Phase{game.PhaseClosed, game.PhaseResolved, game.PhaseOpen}
	for i, phase := range want {
		s := f.tickAt(t, start, 2*time.Minute)
		if s.Phase != phase {
			t.Errorf("tick %d phase = %v, want %v", i+1, s.Phase, phase)
		}
	}
}

func TestClock_BroadcastsEveryTick(t *testing.T) {
	f := newClockFixture(t)
	start := f.time.Now()
	f.start(t)

	for i := 1; i <= 5; i++ {
		f.tickAt(t, start, time.Duration(i)*time.Second)
	}

	snaps := f.recorder.Snapshots()
	if len(snaps) != 6 {
		t.Fatalf("broadcast %d snapshots, want 6", len(snaps))
	}
	for i, s := range snaps {
		if want := 25 - i; s.SecondsRemaining != want {
			t.Errorf("snapshot %d secondsRemaining = %v, want %v", i, s.SecondsRemaining, want)
		}
	}
}

func TestClock_StoreFailuresKeepMemoryState(t *testing.T) {
	f := newClockFixture(t)
	start := f.time.Now()
	f.start(t)

	boom := errors.New("connection reset")
	f.store.Fail(gametest.OpMarkClosed, boom)
	f.store.Fail(gametest.OpMarkResolved, boom)
	f.store.Fail(gametest.OpInsertRound, boom)

	if s := f.tickAt(t, start, 25*time.Second); s.Phase != game.PhaseClosed {
		t.Errorf("phase after failed close = %v, want cerrada", s.Phase)
	}
	if s := f.tickAt(t, start, 33*time.Second); s.Phase != game.PhaseResolved || s.WinningNumber == nil {
		t.Errorf("phase after failed resolve = %v, want resuelta with number", s.Phase)
	}
	if s := f.tickAt(t, start, 39*time.Second); s.Phase != game.PhaseOpen {
		t.Errorf("phase after failed create = %v, want abierta", s.Phase)
	}

	rounds := f.store.Rounds()
	if len(rounds) != 1 || rounds[0].Phase != game.PhaseOpen {
		t.Errorf("persisted rounds = %+v, want only the first, still open", rounds)
	}
}

func TestClock_SlowStoreDoesNotStallTick(t *testing.T) {
	f := newClockFixture(t)
	start := f.time.Now()
	f.start(t)

	f.store.Delay(gametest.OpMarkClosed, 5*time.Second)

	began := time.Now()
	s := f.tickAt(t, start, 25*time.Second)
	if elapsed := time.Since(began); elapsed > time.Second {
		t.Errorf("Tick() took %v with a slow store", elapsed)
	}
	if s.Phase != game.PhaseClosed {
		t.Errorf("phase = %v, want cerrada", s.Phase)
	}
}

func TestClock_StartErrors(t *testing.T) {
	t.Run("unknown slug", func(t *testing.T) {
		store := gametest.NewMemoryStore()
		clock := game.NewClock(game.ClockConfig{GameSlug: "ruleta", Durations: durations}, store, zap.NewNop())
		err := clock.Start(context.Background())
		if !errors.Is(err, game.ErrGameNotFound) {
			t.Errorf("Start() error = %v, want ErrGameNotFound", err)
		}
		if s := clock.Snapshot(); s.Phase != game.PhaseNone {
			t.Errorf("Snapshot().Phase = %v, want sin_ronda", s.Phase)
		}
	})

	t.Run("first round not persisted", func(t *testing.T) {
		f := newClockFixture(t)
		f.store.Fail(gametest.OpInsertRound, errors.New("read-only"))
		if err := f.clock.Start(context.Background()); err == nil {
			t.Error("Start() expected error")
		}
		if _, ok := f.clock.Current(); ok {
			t.Error("Current() returned a round after a failed start")
		}
	})
}

func TestClock_RunStopsOnCancel(t *testing.T) {
	f := newClockFixture(t)
	f.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.clock.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestClock_RunDrainsSettlementOnCancel(t *testing.T) {
	store := gametest.NewMemoryStore()
	settler := game.NewSettler(store, nil, zap.NewNop())
	fx := newClockFixtureWithStore(t, store,
		game.WithSettler(settler),
		game.WithTick(5*time.Millisecond))
	fx.start(t)

	gate := game.NewGate(store, zap.NewNop(), game.WithGateNow(fx.time.Now))
	store.SetCoins("u1", 100)
	if _, err := gate.Place(context.Background(), bet("u1", fx.gameID, game.Placement{ID: "num-17", Total: 10})); err != nil {
		t.Fatalf("Place() error = %v", err)
	}

	// The resolve write stalls until the store timeout and settlement reads slowly,
	// so cancellation lands while the resolve tick or its settlement is in flight.
	store.Delay(gametest.OpMarkResolved, time.Second)
	store.Delay(gametest.OpPendingWagers, 200*time.Millisecond)
	fx.time.Advance(33 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fx.clock.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.Calls(gametest.OpMarkResolved) == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("round was never resolved")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if got := store.Calls(gametest.OpSettleWager); got != 1 {
		t.Fatalf("SettleWager calls when Run returned = %d, want 1", got)
	}
	if w := store.Wagers("u1")[0]; w.State != game.WagerWon || w.Payout != 360 {
		t.Errorf("wager = %v/%v, want ganada/360", w.State, w.Payout)
	}
	if coins, _ := store.Coins("u1"); coins != 90+360 {
		t.Errorf("coins = %v, want %v", coins, 90+360)
	}
}

func TestClock_SettlesResolvedRound(t *testing.T) {
	pub := &gametest.Publisher{}
	store := gametest.NewMemoryStore()
	settler := game.NewSettler(store, pub, zap.NewNop())

	fx := newClockFixtureWithStore(t, store, game.WithSettler(settler), game.WithClockPublisher(pub))
	start := fx.time.Now()
	fx.start(t)

	gate := game.NewGate(store, zap.NewNop(), game.WithGateNow(fx.time.Now))
	store.SetCoins("winner", 100)
	store.SetCoins("loser", 100)

	fx.time.Advance(time.Second)
	if _, err := gate.Place(context.Background(), bet("winner", fx.gameID, game.Placement{ID: "num-17", Total: 10})); err != nil {
		t.Fatalf("Place(winner) error = %v", err)
	}
	if _, err := gate.Place(context.Background(), bet("loser", fx.gameID, game.Placement{ID: "outside-1", Total: 40})); err != nil {
		t.Fatalf("Place(loser) error = %v", err)
	}

	fx.tickAt(t, start, 25*time.Second)
	fx.tickAt(t, start, 33*time.Second)
	fx.clock.Wait()

	if coins, _ := store.Coins("winner"); coins != 90+360 {
		t.Errorf("winner coins = %v, want %v", coins, 90+360)
	}
	if coins, _ := store.Coins("loser"); coins != 60 {
		t.Errorf("loser coins = %v, want 60", coins)
	}
	if w := store.Wagers("winner")[0]; w.State != game.WagerWon || w.Payout != 360 {
		t.Errorf("winner wager = %v/%v, want ganada/360", w.State, w.Payout)
	}
	if w := store.Wagers("loser")[0]; w.State != game.WagerLost || w.Payout != 0 {
		t.Errorf("loser wager = %v/%v, want perdida/0", w.State, w.Payout)
	}

	resolved := pub.Topic(events.TopicRoundResolved)
	if len(resolved) != 1 {
		t.Fatalf("published %d round.resolved events, want 1", len(resolved))
	}
	if evt := resolved[0].Payload.(events.RoundResolved); evt.WinningNumber != 17 || evt.GameID != fx.gameID {
		t.Errorf("round.resolved payload = %+v", evt)
	}
	if got := len(pub.Topic(events.TopicBetSettled)); got != 2 {
		t.Errorf("published %d bet.settled events, want 2", got)
	}

	// The winner may bet again on the next round.
	fx.tickAt(t, start, 39*time.Second)
	fx.time.Advance(time.Second)
	if _, err := gate.Place(context.Background(), bet("winner", fx.gameID, game.Placement{ID: "dozen-1", Total: 1})); err != nil {
		t.Errorf("Place() on next round error = %v", err)
	}
}

func TestClock_StartSweepsOrphans(t *testing.T) {
	store := gametest.NewMemoryStore()
	settler := game.NewSettler(store, nil, zap.NewNop())
	fx := newClockFixtureWithStore(t, store, game.WithSettler(settler))

	store.SetCoins("u1", 50)
	store.PutWager(game.Wager{
		ID: "w1", UserID: "u1", GameID: fx.gameID, RoundID: "lost-round",
		Placements:  []game.Placement{{ID: "num-3", Total: 30}},
		TotalStaked: 30, State: game.WagerPending,
	})

	fx.start(t)

	w := store.Wagers("u1")[0]
	if w.State != game.WagerRefunded || w.Payout != 30 {
		t.Errorf("orphan = %v/%v, want reembolsada/30", w.State, w.Payout)
	}
	if coins, _ := store.Coins("u1"); coins != 80 {
		t.Errorf("coins = %v, want 80", coins)
	}
}

func newClockFixtureWithStore(t *testing.T, store *gametest.MemoryStore, opts ...game.ClockOption) *clockFixture {
	t.Helper()
	f := &clockFixture{
		store:    store,
		time:     gametest.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		recorder: &gametest.Recorder{},
	}
	f.gameID = store.AddGame("ruleta")
	opts = append([]game.ClockOption{
		game.WithNow(f.time.Now),
		game.WithDraw(func() int { return 17 }),
		game.WithBroadcaster(f.recorder),
	}, opts...)
	f.clock = game.NewClock(game.ClockConfig{
		GameSlug:     "ruleta",
		Durations:    durations,
		Tick:         time.Second,
		StoreTimeout: 50 * time.Millisecond,
	}, store, zap.NewNop(), opts...)
	return f
}

func bet(userID, gameID string, placements ...game.Placement) game.BetRequest {
	return game.BetRequest{UserID: userID, GameID: gameID, Bets: placements}
}
