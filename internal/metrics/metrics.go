package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoundTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruleta_round_transitions_total",
		Help: "Round phase transitions, by phase entered.",
	}, []string{"phase"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ruleta_tick_duration_seconds",
		Help:    "Time spent in one round clock tick, persistence included.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruleta_store_errors_total",
		Help: "Round store failures tolerated by the clock, by operation.",
	}, []string{"op"})

	Bets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruleta_bets_total",
		Help: "Bet admission attempts, by result code (ok or rejection code).",
	}, []string{"result"})

	StakedCoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ruleta_staked_coins_total",
		Help: "Coins debited by admitted bets.",
	})

	PayoutCoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ruleta_payout_coins_total",
		Help: "Coins credited by settlement.",
	})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ruleta_ws_clients",
		Help: "Connected websocket viewers.",
	})
)
