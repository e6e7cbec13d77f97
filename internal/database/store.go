package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"ruleta/internal/game"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the Postgres implementation of the round, ledger and settlement stores.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var (
	_ game.RoundStore      = (*Store)(nil)
	_ game.RoundReader     = (*Store)(nil)
	_ game.Ledger          = (*Store)(nil)
	_ game.SettlementStore = (*Store)(nil)
)

func NewStore(pool *pgxpool.Pool, log *zap.Logger) *Store {
	return &Store{pool: pool, log: log.Named("store")}
}
