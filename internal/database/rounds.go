package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ruleta/internal/game"
)

const roundColumns = `id::text, id_juego::text, estado, inicio_en, cierre_en, resuelta_en, finaliza_en,
	numero_ganador, color_ganador, paridad_ganadora, rango_ganador`

func scanRound(row pgx.Row) (*game.Round, error) {
	var (
		r                  game.Round
		phase              string
		number             *int
		color, parity, rng *string
	)
	if err := row.Scan(&r.ID, &r.GameID, &phase, &r.OpenedAt, &r.ClosesAt, &r.ResolvesAt, &r.EndsAt,
		&number, &color, &parity, &rng); err != nil {
		return nil, err
	}
	r.Phase = game.Phase(phase)

	// cierre_en and resuelta_en are restamped with the actual transition time.
	if r.Phase != game.PhaseOpen {
		r.ClosedAt = r.ClosesAt
	}
	if r.Phase == game.PhaseResolved {
		r.ResolvedAt = r.ResolvesAt
	}
	if number != nil {
		o := game.Outcome{Number: *number}
		if color != nil {
			o.Color = game.Color(*color)
		}
		if parity != nil {
			o.Parity = game.Parity(*parity)
		}
		if rng != nil {
			o.Range = game.Range(*rng)
		}
		r.Outcome = &o
	}
	return &r, nil
}

func (s *Store) GameIDBySlug(ctx context.Context, slug string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT id::text FROM juegos WHERE slug = $1`, slug).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("slug %q: %w", slug, game.ErrGameNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup game %q: %w", slug, err)
	}
	return id, nil
}

func (s *Store) InsertRound(ctx context.Context, r game.Round) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ruleta_rondas (id, id_juego, estado, inicio_en, cierre_en, resuelta_en, finaliza_en)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.GameID, string(r.Phase), r.OpenedAt, r.ClosesAt, r.ResolvesAt, r.EndsAt)
	if err != nil {
		return fmt.Errorf("insert round %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) MarkClosed(ctx context.Context, roundID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ruleta_rondas SET estado = 'cerrada', cierre_en = $2, actualizado_en = now()
		WHERE id = $1`, roundID, at)
	if err != nil {
		return fmt.Errorf("close round %s: %w", roundID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("close round %s: %w", roundID, game.ErrRoundNotFound)
	}
	return nil
}

func (s *Store) MarkResolved(ctx context.Context, roundID string, o game.Outcome, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ruleta_rondas
		SET estado = 'resuelta', numero_ganador = $2, color_ganador = $3,
		    paridad_ganadora = $4, rango_ganador = $5, resuelta_en = $6, actualizado_en = now()
		WHERE id = $1 AND numero_ganador IS NULL`,
		roundID, o.Number, string(o.Color), nullable(string(o.Parity)), nullable(string(o.Range)), at)
	if err != nil {
		return fmt.Errorf("resolve round %s: %w", roundID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("resolve round %s: %w", roundID, game.ErrRoundNotFound)
	}
	return nil
}

func (s *Store) LatestRound(ctx context.Context, gameID string) (*game.Round, error) {
	return latestRound(ctx, s.pool, gameID)
}

func latestRound(ctx context.Context, q querier, gameID string) (*game.Round, error) {
	r, err := scanRound(q.QueryRow(ctx, `
		SELECT `+roundColumns+`
		FROM ruleta_rondas
		WHERE $1 = '' OR id_juego::text = $1
		ORDER BY creado_en DESC, inicio_en DESC
		LIMIT 1`, gameID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, game.ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest round: %w", err)
	}
	return r, nil
}

func (s *Store) History(ctx context.Context, gameID string, limit int) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT numero_ganador
		FROM ruleta_rondas
		WHERE estado = 'resuelta' AND numero_ganador IS NOT NULL
		  AND ($1 = '' OR id_juego::text = $1)
		ORDER BY resuelta_en DESC
		LIMIT $2`, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("round history: %w", err)
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("round history: %w", err)
	}
	if numbers == nil {
		numbers = []int{}
	}
	return numbers, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
