package events

import "time"

// Topic suffixes; the configured prefix is prepended by the publisher.
const (
	TopicRoundResolved = "round.resolved"
	TopicBetPlaced     = "bet.placed"
	TopicBetSettled    = "bet.settled"
)

type RoundResolved struct {
	RoundID       string    `json:"round_id"`
	GameID        string    `json:"game_id"`
	WinningNumber int       `json:"winning_number"`
	Color         string    `json:"color"`
	Parity        *string   `json:"parity"`
	Range         *string   `json:"range"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

type BetPlaced struct {
	BetID         string `json:"bet_id"`
	UserID        string `json:"user_id"`
	GameID        string `json:"game_id"`
	RoundID       string `json:"round_id"`
	TotalStaked   int64  `json:"total_staked"`
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	TsUnixMs      int64  `json:"ts_unix_ms"`
}

type BetSettled struct {
	BetID         string `json:"bet_id"`
	UserID        string `json:"user_id"`
	RoundID       string `json:"round_id"`
	State         string `json:"state"`
	Payout        int64  `json:"payout"`
	Net           int64  `json:"net"`
	WinningNumber *int   `json:"winning_number"`
	TsUnixMs      int64  `json:"ts_unix_ms"`
}
