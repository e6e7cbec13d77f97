package game

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Phase is the lifecycle stage of a round. Values are the persisted/wire names.
type Phase string

const (
	// PhaseNone is never persisted; it stands for "no round created yet".
	PhaseNone     Phase = "sin_ronda"
	PhaseOpen     Phase = "abierta"
	PhaseClosed   Phase = "cerrada"
	PhaseResolved Phase = "resuelta"
)

type Durations struct {
	Open    time.Duration
	Closed  time.Duration
	Resolve time.Duration
}

// Round is one betting cycle. Outcome is nil until the round is resolved.
type Round struct {
	ID     string
	GameID string
	Phase  Phase

	OpenedAt   time.Time
	ClosesAt   time.Time
	ResolvesAt time.Time
	EndsAt     time.Time

	ClosedAt   time.Time
	ResolvedAt time.Time

	Outcome *Outcome
}

// NewRound builds an open round whose deadlines are derived from now and d.
func NewRound(id, gameID string, now time.Time, d Durations) *Round {
	closesAt := now.Add(d.Open)
	resolvesAt := closesAt.Add(d.Closed)
	return &Round{
		ID:         id,
		GameID:     gameID,
		Phase:      PhaseOpen,
		OpenedAt:   now,
		ClosesAt:   closesAt,
		ResolvesAt: resolvesAt,
		EndsAt:     resolvesAt.Add(d.Resolve),
	}
}

// AcceptsBets checks both the phase flag and the closing deadline; the phase
// of a persisted row can lag behind the clock.
func (r *Round) AcceptsBets(now time.Time) bool {
	return r.Phase == PhaseOpen && now.Before(r.ClosesAt)
}

// SecondsRemaining counts down to the deadline of the current phase, rounded up.
func (r *Round) SecondsRemaining(now time.Time) int {
	var deadline time.Time
	switch r.Phase {
	case PhaseOpen:
		deadline = r.ClosesAt
	case PhaseClosed:
		deadline = r.ResolvesAt
	case PhaseResolved:
		deadline = r.EndsAt
	default:
		return 0
	}
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

func (r *Round) Snapshot(now time.Time) Snapshot {
	id := r.ID
	s := Snapshot{
		RoundID:          &id,
		Phase:            r.Phase,
		SecondsRemaining: r.SecondsRemaining(now),
	}
	if r.Outcome != nil {
		o := r.Outcome
		n, color := o.Number, string(o.Color)
		s.WinningNumber = &n
		s.WinningColor = &color
		s.WinningParity = optional(string(o.Parity))
		s.WinningRange = optional(string(o.Range))
	}
	return s
}

// Snapshot is what viewers receive on every tick and on connect.
type Snapshot struct {
	RoundID          *string `json:"roundId"`
	Phase            Phase   `json:"estado"`
	SecondsRemaining int     `json:"secondsRemaining"`
	WinningNumber    *int    `json:"numero_ganador"`
	WinningColor     *string `json:"color_ganador"`
	WinningParity    *string `json:"paridad_ganadora"`
	WinningRange     *string `json:"rango_ganador"`
}

// EmptySnapshot is sent while no round exists.
func EmptySnapshot() Snapshot {
	return Snapshot{Phase: PhaseNone}
}

type WagerState string

const (
	WagerPending  WagerState = "pendiente"
	WagerWon      WagerState = "ganada"
	WagerLost     WagerState = "perdida"
	WagerRefunded WagerState = "reembolsada"
)

// Placement is one chip stack on a betting-table target.
type Placement struct {
	ID    string `json:"id" validate:"required"`
	Label string `json:"label"`
	Total int64  `json:"total" validate:"gt=0"`
}

// UnmarshalJSON accepts total as a JSON number or a numeric string and
// truncates fractions toward zero. A total that is neither reads as 0 and
// fails validation.
func (p *Placement) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    string          `json:"id"`
		Label string          `json:"label"`
		Total json.RawMessage `json:"total"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.ID = raw.ID
	p.Label = raw.Label
	p.Total = stakeAmount(raw.Total)
	return nil
}

func stakeAmount(raw json.RawMessage) int64 {
	s := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	if f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0
	}
	return int64(f)
}

type Wager struct {
	ID            string
	UserID        string
	GameID        string
	RoundID       string
	Placements    []Placement
	TotalStaked   int64
	BalanceBefore int64
	BalanceAfter  int64
	State         WagerState
	Payout        int64
	WinningNumber *int
	CreatedAt     time.Time
	SettledAt     time.Time
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

const MessageRoundUpdate = "round:update"

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
