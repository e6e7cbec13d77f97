package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	Close() error

	Pool() *pgxpool.Pool

	// DB exposes the pool through database/sql, for migrations.
	DB() *sql.DB
}

type service struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// New connects a pool to dsn and pings it.
func New(ctx context.Context, dsn string) (Service, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &service{pool: pool, db: stdlib.OpenDBFromPool(pool)}, nil
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	st := s.pool.Stat()
	stats["open_connections"] = strconv.Itoa(int(st.TotalConns()))
	stats["in_use"] = strconv.Itoa(int(st.AcquiredConns()))
	stats["idle"] = strconv.Itoa(int(st.IdleConns()))
	stats["max_connections"] = strconv.Itoa(int(st.MaxConns()))
	stats["wait_count"] = strconv.FormatInt(st.EmptyAcquireCount(), 10)
	stats["wait_duration"] = st.AcquireDuration().String()

	if st.TotalConns() > 0 && st.AcquiredConns() == st.MaxConns() {
		stats["message"] = "The database is experiencing heavy load."
	}
	if st.EmptyAcquireCount() > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

func (s *service) Close() error {
	err := s.db.Close()
	s.pool.Close()
	return err
}

func (s *service) Pool() *pgxpool.Pool { return s.pool }

func (s *service) DB() *sql.DB { return s.db }
