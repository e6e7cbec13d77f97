package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"ruleta/internal/game"
)

type fakeRounds struct {
	round      *game.Round
	roundErr   error
	history    []int
	historyErr error
	gameIDs    []string
}

func (f *fakeRounds) LatestRound(_ context.Context, gameID string) (*game.Round, error) {
	f.gameIDs = append(f.gameIDs, gameID)
	return f.round, f.roundErr
}

func (f *fakeRounds) History(_ context.Context, _ string, limit int) ([]int, error) {
	if len(f.history) > limit {
		return f.history[:limit], f.historyErr
	}
	return f.history, f.historyErr
}

type fakeBets struct {
	receipt game.BetReceipt
	err     error
	got     game.BetRequest
}

func (f *fakeBets) Place(_ context.Context, req game.BetRequest) (game.BetReceipt, error) {
	f.got = req
	return f.receipt, f.err
}

type fakeBalances map[string]int64

func (f fakeBalances) Balance(_ context.Context, userID string) (int64, error) {
	if userID == "broken" {
		return 0, errors.New("connection refused")
	}
	return f[userID], nil
}

type staticHealth map[string]string

func (h staticHealth) Health() map[string]string { return h }

func newTestServer(rounds *fakeRounds, bets *fakeBets) *FiberServer {
	buf := game.NewSnapshotBuffer()
	s := New(Deps{
		Log:          zap.NewNop(),
		Origin:       "http://localhost:3000",
		DB:           staticHealth{"status": "up", "message": "It's healthy"},
		Rounds:       rounds,
		Balances:     fakeBalances{"u1": 75},
		Bets:         bets,
		Snapshots:    buf,
		Hub:          game.NewHub(zap.NewNop()),
		ClockEnabled: true,
	})
	s.RegisterFiberRoutes()
	return s
}

func doJSON(t *testing.T, s *FiberServer, method, target, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read response body: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("could not unmarshal response %q: %v", raw, err)
	}
	return resp, result
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(&fakeRounds{}, &fakeBets{})

	resp, result := doJSON(t, s, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status OK; got %v", resp.Status)
	}

	db := result["database"].(map[string]interface{})
	if db["status"] != "up" {
		t.Errorf("database status = %v, want up", db["status"])
	}
	cache := result["cache"].(map[string]interface{})
	if cache["status"] != "disabled" {
		t.Errorf("cache status = %v, want disabled", cache["status"])
	}
	round := result["round"].(map[string]interface{})
	if round["status"] != "running" || round["phase"] != "sin_ronda" {
		t.Errorf("round = %v", round)
	}
}

func TestRoundStatusHandler(t *testing.T) {
	now := time.Now()
	resolved := game.NewRound("r1", "g1", now.Add(-35*time.Second), game.Durations{
		Open: 25 * time.Second, Closed: 8 * time.Second, Resolve: 6 * time.Second,
	})
	o, _ := game.OutcomeFor(32)
	resolved.Phase = game.PhaseResolved
	resolved.Outcome = &o

	history := []int{32, 0, 5, 7, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		name        string
		rounds      *fakeRounds
		wantStatus  int
		wantRound   bool
		wantHistory int
		roundErr    interface{}
		historyErr  interface{}
	}{
		{
			name:        "both lookups succeed",
			rounds:      &fakeRounds{round: resolved, history: history},
			wantStatus:  http.StatusOK,
			wantRound:   true,
			wantHistory: 12,
		},
		{
			name:        "no round yet",
			rounds:      &fakeRounds{roundErr: game.ErrRoundNotFound, history: []int{}},
			wantStatus:  http.StatusOK,
			wantHistory: 0,
		},
		{
			name:        "round lookup fails",
			rounds:      &fakeRounds{roundErr: errors.New("timeout"), history: []int{4}},
			wantStatus:  http.StatusOK,
			wantHistory: 1,
			roundErr:    "ROUND_LOOKUP_FAILED",
		},
		{
			name:       "history lookup fails",
			rounds:     &fakeRounds{round: resolved, historyErr: errors.New("timeout")},
			wantStatus: http.StatusOK,
			wantRound:  true,
			historyErr: "HISTORY_LOOKUP_FAILED",
		},
		{
			name:       "both fail",
			rounds:     &fakeRounds{roundErr: errors.New("down"), historyErr: errors.New("down")},
			wantStatus: http.StatusInternalServerError,
			roundErr:   "ROUND_LOOKUP_FAILED",
			historyErr: "HISTORY_LOOKUP_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(tt.rounds, &fakeBets{})

			resp, result := doJSON(t, s, http.MethodGet, "/api/v1/ruleta/estado?gameId=g1", "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %v, want %v", resp.StatusCode, tt.wantStatus)
			}
			if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", cc)
			}
			if got := tt.rounds.gameIDs; len(got) != 1 || got[0] != "g1" {
				t.Errorf("LatestRound() called with %v", got)
			}

			if (result["round"] != nil) != tt.wantRound {
				t.Errorf("round = %v, want present %v", result["round"], tt.wantRound)
			}
			if tt.wantRound {
				round := result["round"].(map[string]interface{})
				if round["estado"] != "resuelta" || round["numero_ganador"] != float64(32) || round["color_ganador"] != "morado" {
					t.Errorf("round = %v", round)
				}
			}
			if got := result["history"].([]interface{}); len(got) != tt.wantHistory {
				t.Errorf("history has %d entries, want %d", len(got), tt.wantHistory)
			}
			if result["roundError"] != tt.roundErr {
				t.Errorf("roundError = %v, want %v", result["roundError"], tt.roundErr)
			}
			if result["historyError"] != tt.historyErr {
				t.Errorf("historyError = %v, want %v", result["historyError"], tt.historyErr)
			}
		})
	}
}

func TestPlaceBetHandler(t *testing.T) {
	coins := int64(50)

	tests := []struct {
		name       string
		body       string
		bets       *fakeBets
		wantStatus int
		wantError  interface{}
		check      func(t *testing.T, result map[string]interface{})
	}{
		{
			name:       "malformed json",
			body:       `{"userId":`,
			bets:       &fakeBets{},
			wantStatus: http.StatusBadRequest,
			wantError:  "INVALID_JSON",
		},
		{
			name:       "admitted",
			body:       `{"userId":"u1","gameId":"g1","bets":[{"id":"num-7","label":"7","total":10}]}`,
			bets:       &fakeBets{receipt: game.BetReceipt{BetID: "b1", RoundID: "r1", Coins: 90}},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, result map[string]interface{}) {
				if result["ok"] != true || result["betId"] != "b1" || result["roundId"] != "r1" || result["coins"] != float64(90) {
					t.Errorf("result = %v", result)
				}
			},
		},
		{
			name: "insufficient funds reports coins",
			body: `{"userId":"u1","gameId":"g1","bets":[{"id":"num-7","total":60}]}`,
			bets: &fakeBets{err: &game.BetError{
				Code: game.CodeInsufficientFunds, Status: http.StatusForbidden, Coins: &coins, Err: game.ErrInsufficientFunds,
			}},
			wantStatus: http.StatusForbidden,
			wantError:  "INSUFFICIENT_FUNDS",
			check: func(t *testing.T, result map[string]interface{}) {
				if result["coins"] != float64(50) {
					t.Errorf("coins = %v, want 50", result["coins"])
				}
			},
		},
		{
			name: "betting closed",
			body: `{"userId":"u1","gameId":"g1","bets":[{"id":"num-7","total":1}]}`,
			bets: &fakeBets{err: &game.BetError{
				Code: game.CodeBettingClosed, Status: http.StatusConflict, Err: game.ErrBettingClosed,
			}},
			wantStatus: http.StatusConflict,
			wantError:  "BETTING_CLOSED",
			check: func(t *testing.T, result map[string]interface{}) {
				if _, ok := result["coins"]; ok {
					t.Error("coins present on a non-funds rejection")
				}
			},
		},
		{
			name:       "unexpected error",
			body:       `{"userId":"u1","gameId":"g1","bets":[{"id":"num-7","total":1}]}`,
			bets:       &fakeBets{err: errors.New("boom")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "BET_SAVE_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeRounds{}, tt.bets)

			resp, result := doJSON(t, s, http.MethodPost, "/api/v1/ruleta/apostar", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %v, want %v", resp.StatusCode, tt.wantStatus)
			}
			if result["error"] != tt.wantError {
				t.Errorf("error = %v, want %v", result["error"], tt.wantError)
			}
			if tt.check != nil {
				tt.check(t, result)
			}
		})
	}
}

func TestPlaceBetHandler_DecodesPlacements(t *testing.T) {
	bets := &fakeBets{receipt: game.BetReceipt{BetID: "b1"}}
	s := newTestServer(&fakeRounds{}, bets)

	doJSON(t, s, http.MethodPost, "/api/v1/ruleta/apostar",
		`{"userId":"u1","gameId":"g1","bets":[{"id":"outside-3","label":"Morado","total":"25"},{"id":"dozen-2","total":5.9}]}`)

	if bets.got.UserID != "u1" || bets.got.GameID != "g1" || len(bets.got.Bets) != 2 {
		t.Fatalf("decoded request = %+v", bets.got)
	}
	if p := bets.got.Bets[0]; p.ID != "outside-3" || p.Label != "Morado" || p.Total != 25 {
		t.Errorf("first placement = %+v", p)
	}
	if p := bets.got.Bets[1]; p.ID != "dozen-2" || p.Total != 5 {
		t.Errorf("second placement = %+v, want total truncated to 5", p)
	}
}

func TestCoinsHandler(t *testing.T) {
	s := newTestServer(&fakeRounds{}, &fakeBets{})

	tests := []struct {
		target     string
		wantStatus int
		want       map[string]interface{}
	}{
		{"/api/v1/monedas?userId=u1", http.StatusOK, map[string]interface{}{"coins": float64(75)}},
		{"/api/v1/monedas?userId=nobody", http.StatusOK, map[string]interface{}{"coins": float64(0)}},
		{"/api/v1/monedas", http.StatusBadRequest, map[string]interface{}{"error": "INVALID_INPUT"}},
		{"/api/v1/monedas?userId=broken", http.StatusInternalServerError, map[string]interface{}{"error": "COINS_LOOKUP_FAILED"}},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			resp, result := doJSON(t, s, http.MethodGet, tt.target, "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %v, want %v", resp.StatusCode, tt.wantStatus)
			}
			for k, v := range tt.want {
				if result[k] != v {
					t.Errorf("%s = %v, want %v", k, result[k], v)
				}
			}
		})
	}
}

func TestLiveRoundHandler(t *testing.T) {
	s := newTestServer(&fakeRounds{}, &fakeBets{})
	id := "r9"
	s.snapshots.(*game.SnapshotBuffer).BroadcastSnapshot("g1", game.Snapshot{RoundID: &id, Phase: game.PhaseOpen, SecondsRemaining: 20})

	resp, result := doJSON(t, s, http.MethodGet, "/api/v1/ruleta/ronda", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %v", resp.StatusCode)
	}
	if result["roundId"] != "r9" || result["estado"] != "abierta" || result["secondsRemaining"] != float64(20) {
		t.Errorf("snapshot = %v", result)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(&fakeRounds{}, &fakeBets{})

	resp, err := s.Test(httptest.NewRequest(http.MethodGet, "/ws", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %v, want 426", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeRounds{}, &fakeBets{})

	resp, err := s.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ruleta_ws_clients") {
		t.Errorf("metrics status %v, body missing ruleta_ws_clients", resp.StatusCode)
	}
}
