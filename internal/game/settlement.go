package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ruleta/internal/events"
	"ruleta/internal/metrics"
)

// Settler pays out pending wagers once their round is resolved.
type Settler struct {
	store     SettlementStore
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewSettler(store SettlementStore, publisher events.Publisher, log *zap.Logger) *Settler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Settler{store: store, publisher: publisher, log: log.Named("settlement"), now: time.Now}
}

type SettleSummary struct {
	Settled  int
	Skipped  int
	Failed   int
	Payout   int64
	Refunded int
}

// Settle settles every pending wager of a resolved round. A wager that fails
// stays pending and is picked up by the next orphan sweep.
func (s *Settler) Settle(ctx context.Context, round Round) (SettleSummary, error) {
	var sum SettleSummary
	if round.Phase != PhaseResolved || round.Outcome == nil {
		return sum, fmt.Errorf("round %s is not resolved", round.ID)
	}

	wagers, err := s.store.PendingWagers(ctx, round.ID)
	if err != nil {
		return sum, fmt.Errorf("list pending wagers: %w", err)
	}

	n := round.Outcome.Number
	var errs []error
	for _, w := range wagers {
		payout := WagerPayout(w.Placements, n)
		state := WagerLost
		if payout > 0 {
			state = WagerWon
		}
		if err := s.apply(ctx, w, state, payout, &n, round.ResolvedAt, &sum); err != nil {
			errs = append(errs, err)
		}
	}

	s.log.Info("round settled",
		zap.String("round_id", round.ID),
		zap.Int("winning_number", n),
		zap.Int("settled", sum.Settled),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
		zap.Int64("payout", sum.Payout))

	return sum, errors.Join(errs...)
}

// SweepOrphans settles pending wagers left behind by a previous process.
// Wagers whose round got a winning number are paid normally; the rest are
// refunded.
func (s *Settler) SweepOrphans(ctx context.Context, gameID string) (SettleSummary, error) {
	var sum SettleSummary
	orphans, err := s.store.OrphanedWagers(ctx, gameID)
	if err != nil {
		return sum, fmt.Errorf("list orphaned wagers: %w", err)
	}

	now := s.now()
	var errs []error
	for _, o := range orphans {
		var err error
		if o.RoundNumber != nil {
			payout := WagerPayout(o.Placements, *o.RoundNumber)
			state := WagerLost
			if payout > 0 {
				state = WagerWon
			}
			err = s.apply(ctx, o.Wager, state, payout, o.RoundNumber, now, &sum)
		} else {
			err = s.apply(ctx, o.Wager, WagerRefunded, o.TotalStaked, nil, now, &sum)
			if err == nil {
				sum.Refunded++
			}
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(orphans) > 0 {
		s.log.Warn("orphaned wagers swept",
			zap.String("game_id", gameID),
			zap.Int("found", len(orphans)),
			zap.Int("refunded", sum.Refunded),
			zap.Int("failed", sum.Failed))
	}
	return sum, errors.Join(errs...)
}

func (s *Settler) apply(ctx context.Context, w Wager, state WagerState, payout int64, number *int, at time.Time, sum *SettleSummary) error {
	balance, applied, err := s.store.SettleWager(ctx, SettleCommand{
		WagerID:       w.ID,
		UserID:        w.UserID,
		State:         state,
		Payout:        payout,
		WinningNumber: number,
		SettledAt:     at,
	})
	if err != nil {
		sum.Failed++
		s.log.Error("settle wager", zap.String("bet_id", w.ID), zap.String("user_id", w.UserID), zap.Error(err))
		return fmt.Errorf("settle wager %s: %w", w.ID, err)
	}
	if !applied {
		sum.Skipped++
		return nil
	}

	sum.Settled++
	sum.Payout += payout
	metrics.PayoutCoins.Add(float64(payout))

	evt := events.BetSettled{
		BetID:         w.ID,
		UserID:        w.UserID,
		RoundID:       w.RoundID,
		State:         string(state),
		Payout:        payout,
		Net:           payout - w.TotalStaked,
		WinningNumber: number,
		TsUnixMs:      at.UnixMilli(),
	}
	if err := s.publisher.Publish(ctx, events.TopicBetSettled, w.UserID, evt); err != nil {
		s.log.Warn("publish bet settled", zap.String("bet_id", w.ID), zap.Error(err))
	}
	s.log.Debug("wager settled",
		zap.String("bet_id", w.ID),
		zap.String("state", string(state)),
		zap.Int64("payout", payout),
		zap.Int64("balance", balance))
	return nil
}
