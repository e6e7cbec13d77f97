package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"ruleta/internal/game"
)

const wagerColumns = `h.id::text, h.id_usuario, h.id_juego::text, h.id_ronda::text, h.apuestas,
	h.apuesta_total, h.saldo_antes, h.saldo_despues, h.estado, h.creado_en`

func scanWager(row pgx.Row, extra ...any) (game.Wager, error) {
	var (
		w       game.Wager
		raw     []byte
		state   string
		payload wagerPayload
	)
	dest := append([]any{&w.ID, &w.UserID, &w.GameID, &w.RoundID, &raw,
		&w.TotalStaked, &w.BalanceBefore, &w.BalanceAfter, &state, &w.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return w, err
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return w, fmt.Errorf("decode bets of wager %s: %w", w.ID, err)
	}
	w.Placements = payload.Bets
	w.State = game.WagerState(state)
	return w, nil
}

func (s *Store) PendingWagers(ctx context.Context, roundID string) ([]game.Wager, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+wagerColumns+`
		FROM ruleta_historial h
		WHERE h.id_ronda = $1 AND h.estado = 'pendiente'
		ORDER BY h.creado_en`, roundID)
	if err != nil {
		return nil, fmt.Errorf("pending wagers of %s: %w", roundID, err)
	}
	defer rows.Close()

	var wagers []game.Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

func (s *Store) OrphanedWagers(ctx context.Context, gameID string) ([]game.OrphanedWager, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+wagerColumns+`, r.numero_ganador
		FROM ruleta_historial h
		LEFT JOIN ruleta_rondas r ON r.id = h.id_ronda AND r.estado = 'resuelta'
		WHERE h.id_juego = $1 AND h.estado = 'pendiente'
		ORDER BY h.creado_en`, gameID)
	if err != nil {
		return nil, fmt.Errorf("orphaned wagers of %s: %w", gameID, err)
	}
	defer rows.Close()

	var orphans []game.OrphanedWager
	for rows.Next() {
		var number *int
		w, err := scanWager(rows, &number)
		if err != nil {
			return nil, err
		}
		orphans = append(orphans, game.OrphanedWager{Wager: w, RoundNumber: number})
	}
	return orphans, rows.Err()
}

// SettleWager locks the balance row before the wager row, the same order
// admission uses.
func (s *Store) SettleWager(ctx context.Context, cmd game.SettleCommand) (int64, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, false, fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	var balance int64
	err = tx.QueryRow(ctx, `SELECT cantidad FROM monedas WHERE id_usuario = $1 FOR UPDATE`, cmd.UserID).Scan(&balance)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("lock balance of %s: %w", cmd.UserID, err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ruleta_historial
		SET estado = $2, pago_total = $3, ganancia_neta = $3 - apuesta_total,
		    numero_ganador = $4, resuelto_en = $5
		WHERE id = $1 AND estado = 'pendiente'`,
		cmd.WagerID, string(cmd.State), cmd.Payout, cmd.WinningNumber, cmd.SettledAt)
	if err != nil {
		return 0, false, fmt.Errorf("mark wager %s: %w", cmd.WagerID, err)
	}
	if tag.RowsAffected() == 0 {
		return balance, false, nil
	}

	if cmd.Payout > 0 {
		err = tx.QueryRow(ctx, `
			INSERT INTO monedas (id_usuario, cantidad) VALUES ($1, $2)
			ON CONFLICT (id_usuario)
			DO UPDATE SET cantidad = monedas.cantidad + EXCLUDED.cantidad, actualizado_en = now()
			RETURNING cantidad`, cmd.UserID, cmd.Payout).Scan(&balance)
		if err != nil {
			return 0, false, fmt.Errorf("credit %s: %w", cmd.UserID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("commit settlement of %s: %w", cmd.WagerID, err)
	}
	return balance, true, nil
}
