// Package gametest provides in-memory collaborators for round and wager tests.
package gametest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"ruleta/internal/game"
)

// Operation names accepted by Fail and Delay.
const (
	OpGameIDBySlug    = "GameIDBySlug"
	OpInsertRound     = "InsertRound"
	OpMarkClosed      = "MarkClosed"
	OpMarkResolved    = "MarkResolved"
	OpLatestRound     = "LatestRound"
	OpHistory         = "History"
	OpBalance         = "Balance"
	OpEnsureBalance   = "EnsureBalance"
	OpLockBalance     = "LockBalance"
	OpHasPendingWager = "HasPendingWager"
	OpSetBalance      = "SetBalance"
	OpInsertWager     = "InsertWager"
	OpCommit          = "Commit"
	OpPendingWagers   = "PendingWagers"
	OpOrphanedWagers  = "OrphanedWagers"
	OpSettleWager     = "SettleWager"
)

// MemoryStore implements every store interface of the game package. InTx
// runs one transaction at a time and restores balances and wagers when the
// callback fails.
type MemoryStore struct {
	tx sync.Mutex

	mu       sync.Mutex
	games    map[string]string
	rounds   []game.Round
	balances map[string]int64
	wagers   []game.Wager
	fail     map[string]error
	delay    map[string]time.Duration
	calls    map[string]int
}

var (
	_ game.RoundStore      = (*MemoryStore)(nil)
	_ game.RoundReader     = (*MemoryStore)(nil)
	_ game.Ledger          = (*MemoryStore)(nil)
	_ game.SettlementStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:    make(map[string]string),
		balances: make(map[string]int64),
		fail:     make(map[string]error),
		delay:    make(map[string]time.Duration),
		calls:    make(map[string]int),
	}
}

// AddGame registers a game slug and returns its id.
func (s *MemoryStore) AddGame(slug string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.games[slug] = id
	return id
}

// Fail makes every later call of op return err. A nil err clears it.
func (s *MemoryStore) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Delay makes op block for d or until its context is done.
func (s *MemoryStore) Delay(op string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay[op] = d
}

func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *MemoryStore) SetCoins(userID string, coins int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = coins
}

func (s *MemoryStore) Coins(userID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.balances[userID]
	return c, ok
}

func (s *MemoryStore) Rounds() []game.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]game.Round, len(s.rounds))
	for i, r := range s.rounds {
		out[i] = copyRound(r)
	}
	return out
}

func (s *MemoryStore) Wagers(userID string) []game.Wager {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []game.Wager
	for _, w := range s.wagers {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out
}

// PutWager stores w as is, bypassing admission.
func (s *MemoryStore) PutWager(w game.Wager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wagers = append(s.wagers, w)
}

// enter records the call and applies any configured delay or failure.
func (s *MemoryStore) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	err := s.fail[op]
	d := s.delay[op]
	s.mu.Unlock()

	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func (s *MemoryStore) GameIDBySlug(ctx context.Context, slug string) (string, error) {
	if err := s.enter(ctx, OpGameIDBySlug); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.games[slug]
	if !ok {
		return "", fmt.Errorf("slug %q: %w", slug, game.ErrGameNotFound)
	}
	return id, nil
}

func (s *MemoryStore) InsertRound(ctx context.Context, r game.Round) error {
	if err := s.enter(ctx, OpInsertRound); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds = append(s.rounds, copyRound(r))
	return nil
}

func (s *MemoryStore) MarkClosed(ctx context.Context, roundID string, at time.Time) error {
	if err := s.enter(ctx, OpMarkClosed); err != nil {
		return err
	}
	return s.update(roundID, func(r *game.Round) {
		r.Phase = game.PhaseClosed
		r.ClosedAt = at
	})
}

func (s *MemoryStore) MarkResolved(ctx context.Context, roundID string, o game.Outcome, at time.Time) error {
	if err := s.enter(ctx, OpMarkResolved); err != nil {
		return err
	}
	return s.update(roundID, func(r *game.Round) {
		r.Phase = game.PhaseResolved
		r.ResolvedAt = at
		r.Outcome = &o
	})
}

// SetPhase rewrites a persisted round, for simulating a lagging row.
func (s *MemoryStore) SetPhase(roundID string, p game.Phase) error {
	return s.update(roundID, func(r *game.Round) { r.Phase = p })
}

func (s *MemoryStore) update(roundID string, fn func(*game.Round)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rounds {
		if s.rounds[i].ID == roundID {
			fn(&s.rounds[i])
			return nil
		}
	}
	return fmt.Errorf("round %s: %w", roundID, game.ErrRoundNotFound)
}

func (s *MemoryStore) LatestRound(ctx context.Context, gameID string) (*game.Round, error) {
	if err := s.enter(ctx, OpLatestRound); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestLocked(gameID)
}

func (s *MemoryStore) latestLocked(gameID string) (*game.Round, error) {
	for i := len(s.rounds) - 1; i >= 0; i-- {
		if gameID == "" || s.rounds[i].GameID == gameID {
			r := copyRound(s.rounds[i])
			return &r, nil
		}
	}
	return nil, game.ErrRoundNotFound
}

func (s *MemoryStore) History(ctx context.Context, gameID string, limit int) ([]int, error) {
	if err := s.enter(ctx, OpHistory); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []int{}
	for i := len(s.rounds) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.rounds[i]
		if r.Outcome == nil || (gameID != "" && r.GameID != gameID) {
			continue
		}
		out = append(out, r.Outcome.Number)
	}
	return out, nil
}

func (s *MemoryStore) Balance(ctx context.Context, userID string) (int64, error) {
	if err := s.enter(ctx, OpBalance); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx game.LedgerTx) error) error {
	s.tx.Lock()
	defer s.tx.Unlock()

	s.mu.Lock()
	balances := make(map[string]int64, len(s.balances))
	for k, v := range s.balances {
		balances[k] = v
	}
	wagers := slices.Clone(s.wagers)
	s.mu.Unlock()

	err := fn(memTx{s})
	if err == nil {
		err = s.enter(ctx, OpCommit)
	}
	if err != nil {
		s.mu.Lock()
		s.balances = balances
		s.wagers = wagers
		s.mu.Unlock()
		return err
	}
	return nil
}

type memTx struct{ s *MemoryStore }

func (t memTx) EnsureBalance(ctx context.Context, userID string) error {
	if err := t.s.enter(ctx, OpEnsureBalance); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.balances[userID]; !ok {
		t.s.balances[userID] = 0
	}
	return nil
}

func (t memTx) LockBalance(ctx context.Context, userID string) (int64, error) {
	if err := t.s.enter(ctx, OpLockBalance); err != nil {
		return 0, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.balances[userID], nil
}

func (t memTx) HasPendingWager(ctx context.Context, userID, gameID string) (bool, error) {
	if err := t.s.enter(ctx, OpHasPendingWager); err != nil {
		return false, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, w := range t.s.wagers {
		if w.UserID == userID && w.GameID == gameID && w.State == game.WagerPending {
			return true, nil
		}
	}
	return false, nil
}

func (t memTx) LatestRound(ctx context.Context, gameID string) (*game.Round, error) {
	if err := t.s.enter(ctx, OpLatestRound); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.latestLocked(gameID)
}

func (t memTx) SetBalance(ctx context.Context, userID string, coins int64) error {
	if err := t.s.enter(ctx, OpSetBalance); err != nil {
		return err
	}
	if coins < 0 {
		return fmt.Errorf("negative balance %d for %s", coins, userID)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.balances[userID] = coins
	return nil
}

func (t memTx) InsertWager(ctx context.Context, w game.Wager) error {
	if err := t.s.enter(ctx, OpInsertWager); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	w.Placements = slices.Clone(w.Placements)
	t.s.wagers = append(t.s.wagers, w)
	return nil
}

func (s *MemoryStore) PendingWagers(ctx context.Context, roundID string) ([]game.Wager, error) {
	if err := s.enter(ctx, OpPendingWagers); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []game.Wager
	for _, w := range s.wagers {
		if w.RoundID == roundID && w.State == game.WagerPending {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *MemoryStore) OrphanedWagers(ctx context.Context, gameID string) ([]game.OrphanedWager, error) {
	if err := s.enter(ctx, OpOrphanedWagers); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []game.OrphanedWager
	for _, w := range s.wagers {
		if w.GameID != gameID || w.State != game.WagerPending {
			continue
		}
		o := game.OrphanedWager{Wager: w}
		for _, r := range s.rounds {
			if r.ID == w.RoundID && r.Outcome != nil {
				n := r.Outcome.Number
				o.RoundNumber = &n
			}
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *MemoryStore) SettleWager(ctx context.Context, cmd game.SettleCommand) (int64, bool, error) {
	if err := s.enter(ctx, OpSettleWager); err != nil {
		return 0, false, err
	}
	s.tx.Lock()
	defer s.tx.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.wagers {
		w := &s.wagers[i]
		if w.ID != cmd.WagerID {
			continue
		}
		if w.State != game.WagerPending {
			return s.balances[w.UserID], false, nil
		}
		w.State = cmd.State
		w.Payout = cmd.Payout
		w.WinningNumber = cmd.WinningNumber
		w.SettledAt = cmd.SettledAt
		s.balances[w.UserID] += cmd.Payout
		return s.balances[w.UserID], true, nil
	}
	return 0, false, fmt.Errorf("wager %s not found", cmd.WagerID)
}

func copyRound(r game.Round) game.Round {
	if r.Outcome != nil {
		o := *r.Outcome
		r.Outcome = &o
	}
	return r
}
