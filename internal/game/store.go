package game

import (
	"context"
	"time"
)

// RoundStore is written by the clock only.
type RoundStore interface {
	GameIDBySlug(ctx context.Context, slug string) (string, error)
	InsertRound(ctx context.Context, r Round) error
	MarkClosed(ctx context.Context, roundID string, at time.Time) error
	MarkResolved(ctx context.Context, roundID string, o Outcome, at time.Time) error
}

// RoundReader serves status queries. An empty gameID matches every game.
type RoundReader interface {
	LatestRound(ctx context.Context, gameID string) (*Round, error)
	History(ctx context.Context, gameID string, limit int) ([]int, error)
}

// Ledger runs admissions atomically. When fn returns an error every write
// made through the LedgerTx is undone.
type Ledger interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
	Balance(ctx context.Context, userID string) (int64, error)
}

type LedgerTx interface {
	// EnsureBalance creates a zero balance row if the user has none.
	EnsureBalance(ctx context.Context, userID string) error
	// LockBalance reads the balance and holds it until the transaction ends.
	LockBalance(ctx context.Context, userID string) (int64, error)
	HasPendingWager(ctx context.Context, userID, gameID string) (bool, error)
	LatestRound(ctx context.Context, gameID string) (*Round, error)
	SetBalance(ctx context.Context, userID string, coins int64) error
	InsertWager(ctx context.Context, w Wager) error
}

type SettleCommand struct {
	WagerID       string
	UserID        string
	State         WagerState
	Payout        int64
	WinningNumber *int
	SettledAt     time.Time
}

// OrphanedWager is a pending wager found at startup, with the winning number
// of its round when that round was resolved.
type OrphanedWager struct {
	Wager
	RoundNumber *int
}

type SettlementStore interface {
	PendingWagers(ctx context.Context, roundID string) ([]Wager, error)
	OrphanedWagers(ctx context.Context, gameID string) ([]OrphanedWager, error)
	// SettleWager moves a pending wager to cmd.State and credits cmd.Payout in
	// one step. applied is false when the wager was no longer pending.
	SettleWager(ctx context.Context, cmd SettleCommand) (balance int64, applied bool, err error)
}
