package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"ruleta/internal/game"
)

// wagerPayload is the apuestas column.
type wagerPayload struct {
	RoundID string           `json:"round_id"`
	Bets    []game.Placement `json:"bets"`
	Total   int64            `json:"total"`
}

// InTx runs fn in one transaction. Balance rows are locked with FOR UPDATE,
// so admissions and settlements of the same user are serialized.
func (s *Store) InTx(ctx context.Context, fn func(tx game.LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			// The debit may have survived; someone has to reconcile this user.
			s.log.Error("ledger rollback failed, balance needs reconciliation",
				zap.Error(rbErr), zap.NamedError("cause", err))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	var coins int64
	err := s.pool.QueryRow(ctx, `SELECT cantidad FROM monedas WHERE id_usuario = $1`, userID).Scan(&coins)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance of %s: %w", userID, err)
	}
	return coins, nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) EnsureBalance(ctx context.Context, userID string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO monedas (id_usuario, cantidad) VALUES ($1, 0)
		ON CONFLICT (id_usuario) DO NOTHING`, userID)
	return err
}

func (t *ledgerTx) LockBalance(ctx context.Context, userID string) (int64, error) {
	var coins int64
	err := t.tx.QueryRow(ctx, `SELECT cantidad FROM monedas WHERE id_usuario = $1 FOR UPDATE`, userID).Scan(&coins)
	return coins, err
}

func (t *ledgerTx) HasPendingWager(ctx context.Context, userID, gameID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ruleta_historial
			WHERE id_usuario = $1 AND id_juego = $2 AND estado = 'pendiente'
		)`, userID, gameID).Scan(&exists)
	return exists, err
}

func (t *ledgerTx) LatestRound(ctx context.Context, gameID string) (*game.Round, error) {
	return latestRound(ctx, t.tx, gameID)
}

func (t *ledgerTx) SetBalance(ctx context.Context, userID string, coins int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE monedas SET cantidad = $2, actualizado_en = now()
		WHERE id_usuario = $1`, userID, coins)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("balance row of %s missing", userID)
	}
	return nil
}

func (t *ledgerTx) InsertWager(ctx context.Context, w game.Wager) error {
	payload, err := json.Marshal(wagerPayload{RoundID: w.RoundID, Bets: w.Placements, Total: w.TotalStaked})
	if err != nil {
		return fmt.Errorf("encode bets: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO ruleta_historial
			(id, id_usuario, id_juego, id_ronda, apuesta_total, saldo_antes, saldo_despues, estado, apuestas, creado_en)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.UserID, w.GameID, w.RoundID, w.TotalStaked, w.BalanceBefore, w.BalanceAfter,
		string(w.State), payload, w.CreatedAt)
	return err
}
