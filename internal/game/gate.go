package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ruleta/internal/events"
	"ruleta/internal/metrics"
)

// BetRequest is the body of a bet placement.
type BetRequest struct {
	UserID string      `json:"userId" validate:"required"`
	GameID string      `json:"gameId" validate:"required,uuid"`
	Bets   []Placement `json:"bets"`
}

type BetReceipt struct {
	BetID   string `json:"betId"`
	RoundID string `json:"roundId"`
	Coins   int64  `json:"coins"`
}

// Gate admits wagers against the latest persisted round. It never talks to
// the Clock; the two agree only through the round row.
type Gate struct {
	ledger    Ledger
	publisher events.Publisher
	validate  *validator.Validate
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
}

type GateOption func(*Gate)

func WithGateNow(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

func WithGatePublisher(p events.Publisher) GateOption {
	return func(g *Gate) { g.publisher = p }
}

func NewGate(ledger Ledger, log *zap.Logger, opts ...GateOption) *Gate {
	g := &Gate{
		ledger:    ledger,
		publisher: events.NopPublisher{},
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       log.Named("gate"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Place validates req and, in one ledger transaction, debits the stake and
// records a pending wager. Rejections are returned as *BetError.
func (g *Gate) Place(ctx context.Context, req BetRequest) (BetReceipt, error) {
	placements, total, err := g.check(req)
	if err != nil {
		return BetReceipt{}, g.fail(req, err)
	}

	wager := Wager{
		ID:          g.newID(),
		UserID:      req.UserID,
		GameID:      req.GameID,
		Placements:  placements,
		TotalStaked: total,
		State:       WagerPending,
	}

	err = g.ledger.InTx(ctx, func(tx LedgerTx) error {
		if err := tx.EnsureBalance(ctx, req.UserID); err != nil {
			return storeFailure(CodeCoinsInitFailed, err)
		}
		balance, err := tx.LockBalance(ctx, req.UserID)
		if err != nil {
			return storeFailure(CodeCoinsLookupFailed, err)
		}

		pending, err := tx.HasPendingWager(ctx, req.UserID, req.GameID)
		if err != nil {
			return storeFailure(CodeBetLookupFailed, err)
		}
		if pending {
			return reject(CodePendingBet, http.StatusConflict, ErrPendingBet)
		}

		round, err := tx.LatestRound(ctx, req.GameID)
		if err == nil && round == nil {
			err = ErrRoundNotFound
		}
		if err != nil {
			return storeFailure(CodeRoundLookupFailed, err)
		}
		now := g.now()
		if !round.AcceptsBets(now) {
			return reject(CodeBettingClosed, http.StatusConflict, ErrBettingClosed)
		}

		if balance < total {
			return insufficientFunds(balance)
		}

		wager.RoundID = round.ID
		wager.BalanceBefore = balance
		wager.BalanceAfter = balance - total
		wager.CreatedAt = now

		if err := tx.SetBalance(ctx, req.UserID, wager.BalanceAfter); err != nil {
			return storeFailure(CodeCoinsUpdateFailed, err)
		}
		if err := tx.InsertWager(ctx, wager); err != nil {
			return storeFailure(CodeBetSaveFailed, fmt.Errorf("%w: %w", ErrBetSaveFailed, err))
		}
		return nil
	})
	if err != nil {
		var betErr *BetError
		if !errors.As(err, &betErr) {
			// Commit failed: nothing was applied.
			betErr = storeFailure(CodeBetSaveFailed, fmt.Errorf("%w: %w", ErrBetSaveFailed, err))
		}
		return BetReceipt{}, g.fail(req, betErr)
	}

	metrics.Bets.WithLabelValues("ok").Inc()
	metrics.StakedCoins.Add(float64(total))
	g.log.Info("bet admitted",
		zap.String("bet_id", wager.ID),
		zap.String("user_id", wager.UserID),
		zap.String("round_id", wager.RoundID),
		zap.Int64("total", total),
		zap.Int64("balance", wager.BalanceAfter))

	g.publishPlaced(ctx, wager)

	return BetReceipt{BetID: wager.ID, RoundID: wager.RoundID, Coins: wager.BalanceAfter}, nil
}

// check rejects the whole request if any placement is malformed; nothing is
// partially admitted.
func (g *Gate) check(req BetRequest) ([]Placement, int64, error) {
	if err := g.validate.Struct(req); err != nil {
		return nil, 0, reject(CodeInvalidInput, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}
	if len(req.Bets) == 0 {
		return nil, 0, reject(CodeNoBets, http.StatusBadRequest, ErrNoBets)
	}

	placements := make([]Placement, 0, len(req.Bets))
	var total int64
	for i, p := range req.Bets {
		if err := g.validate.Struct(p); err != nil {
			return nil, 0, reject(CodeInvalidInput, http.StatusBadRequest,
				fmt.Errorf("%w: bet %d: %w", ErrInvalidInput, i, err))
		}
		if _, err := ParseTarget(p.ID); err != nil {
			return nil, 0, reject(CodeInvalidInput, http.StatusBadRequest,
				fmt.Errorf("%w: bet %d: %w", ErrInvalidInput, i, err))
		}
		if p.Label == "" {
			p.Label = p.ID
		}
		if total > math.MaxInt64-p.Total {
			return nil, 0, reject(CodeInvalidBetTotal, http.StatusBadRequest, ErrInvalidBetTotal)
		}
		total += p.Total
		placements = append(placements, p)
	}
	if total <= 0 {
		return nil, 0, reject(CodeInvalidBetTotal, http.StatusBadRequest, ErrInvalidBetTotal)
	}
	return placements, total, nil
}

func (g *Gate) fail(req BetRequest, err error) error {
	code := "error"
	var betErr *BetError
	if errors.As(err, &betErr) {
		code = betErr.Code
	}
	metrics.Bets.WithLabelValues(code).Inc()

	fields := []zap.Field{zap.String("user_id", req.UserID), zap.String("game_id", req.GameID), zap.String("code", code)}
	if betErr != nil && betErr.Status >= http.StatusInternalServerError {
		g.log.Error("bet admission failed", append(fields, zap.Error(err))...)
	} else {
		g.log.Debug("bet rejected", append(fields, zap.Error(err))...)
	}
	return err
}

func (g *Gate) publishPlaced(ctx context.Context, w Wager) {
	evt := events.BetPlaced{
		BetID:         w.ID,
		UserID:        w.UserID,
		GameID:        w.GameID,
		RoundID:       w.RoundID,
		TotalStaked:   w.TotalStaked,
		BalanceBefore: w.BalanceBefore,
		BalanceAfter:  w.BalanceAfter,
		TsUnixMs:      w.CreatedAt.UnixMilli(),
	}
	if err := g.publisher.Publish(context.WithoutCancel(ctx), events.TopicBetPlaced, w.UserID, evt); err != nil {
		g.log.Warn("publish bet placed", zap.String("bet_id", w.ID), zap.Error(err))
	}
}
