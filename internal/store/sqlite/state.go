package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"footprint-systemv1/internal/model"
)

// SaveState upserts one symbol's serialized candle group.
func (s *Store) SaveState(ctx context.Context, e model.StateEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO candle_state (exchange, symbol, state_json, updated_at)
		VALUES (?, ?, ?, ?)`,
		e.Exchange, e.Symbol, e.StateJSON, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save state %s:%s: %w", e.Exchange, e.Symbol, err)
	}
	return nil
}

// SaveStateBatch upserts many symbols in one transaction. All or nothing.
func (s *Store) SaveStateBatch(ctx context.Context, entries []model.StateEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save state batch: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candle_state (exchange, symbol, state_json, updated_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("save state batch: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Exchange, e.Symbol, e.StateJSON, e.UpdatedAt); err != nil {
			return fmt.Errorf("save state batch %s:%s: %w", e.Exchange, e.Symbol, err)
		}
	}
	return s.commitTimed(tx)
}

// LoadState fetches one symbol's serialized group. found is false when the
// symbol has never been persisted.
func (s *Store) LoadState(ctx context.Context, exchange, symbol string) (string, bool, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT state_json FROM candle_state WHERE exchange = ? AND symbol = ?`,
		exchange, symbol).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load state %s:%s: %w", exchange, symbol, err)
	}
	return stateJSON, true, nil
}

// LoadStateBatch fetches the given symbols. Symbols with no stored state
// are simply absent from the result.
func (s *Store) LoadStateBatch(ctx context.Context, exchange string, symbols []string) (map[string]string, error) {
	out := make(map[string]string, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	stmt, err := s.db.PrepareContext(ctx, `
		SELECT state_json FROM candle_state WHERE exchange = ? AND symbol = ?`)
	if err != nil {
		return nil, fmt.Errorf("load state batch: prepare: %w", err)
	}
	defer stmt.Close()

	for _, sym := range symbols {
		var stateJSON string
		err := stmt.QueryRowContext(ctx, exchange, sym).Scan(&stateJSON)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load state batch %s:%s: %w", exchange, sym, err)
		}
		out[sym] = stateJSON
	}
	return out, nil
}

// LoadAllStates fetches every stored snapshot. An empty exchange means all
// exchanges.
func (s *Store) LoadAllStates(ctx context.Context, exchange string) ([]model.StateEntry, error) {
	query := `SELECT exchange, symbol, state_json, updated_at FROM candle_state`
	var args []interface{}
	if exchange != "" {
		query += ` WHERE exchange = ?`
		args = append(args, exchange)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load all states: %w", err)
	}
	defer rows.Close()

	var out []model.StateEntry
	for rows.Next() {
		var e model.StateEntry
		if err := rows.Scan(&e.Exchange, &e.Symbol, &e.StateJSON, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("load all states scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
