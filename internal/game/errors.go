package game

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput      = errors.New("invalid bet input")
	ErrNoBets            = errors.New("no bets")
	ErrInvalidBetTotal   = errors.New("invalid bet total")
	ErrPendingBet        = errors.New("a pending bet already exists for this game")
	ErrBettingClosed     = errors.New("betting is closed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBetSaveFailed     = errors.New("bet could not be saved")

	ErrRoundNotFound = errors.New("round not found")
	ErrGameNotFound  = errors.New("game not found")
)

// Public rejection codes.
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeNoBets            = "NO_BETS"
	CodeInvalidBetTotal   = "INVALID_BET_TOTAL"
	CodeBetLookupFailed   = "BET_LOOKUP_FAILED"
	CodePendingBet        = "PENDING_BET"
	CodeRoundLookupFailed = "ROUND_LOOKUP_FAILED"
	CodeBettingClosed     = "BETTING_CLOSED"
	CodeCoinsInitFailed   = "COINS_INIT_FAILED"
	CodeCoinsLookupFailed = "COINS_LOOKUP_FAILED"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeCoinsUpdateFailed = "COINS_UPDATE_FAILED"
	CodeBetSaveFailed     = "BET_SAVE_FAILED"
)

// BetError is a rejected or failed admission. Coins is set for INSUFFICIENT_FUNDS.
type BetError struct {
	Code   string
	Status int
	Coins  *int64
	Err    error
}

func (e *BetError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *BetError) Unwrap() error { return e.Err }

func reject(code string, status int, err error) *BetError {
	return &BetError{Code: code, Status: status, Err: err}
}

func storeFailure(code string, err error) *BetError {
	return &BetError{Code: code, Status: http.StatusInternalServerError, Err: err}
}

func insufficientFunds(coins int64) *BetError {
	return &BetError{
		Code:   CodeInsufficientFunds,
		Status: http.StatusForbidden,
		Coins:  &coins,
		Err:    ErrInsufficientFunds,
	}
}
