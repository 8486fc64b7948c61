package sqlite

import (
	"context"
	"fmt"
	"strings"

	"footprint-systemv1/internal/model"
)

// SaveGap inserts one gap record and returns its assigned id.
func (s *Store) SaveGap(ctx context.Context, g model.GapRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO gap_records (exchange, symbol, from_trade_id, to_trade_id, gap_size, detected_at, synced)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		g.Exchange, g.Symbol, g.FromTradeID, g.ToTradeID, g.GapSize, g.DetectedAt)
	if err != nil {
		return 0, fmt.Errorf("save gap %s:%s: %w", g.Exchange, g.Symbol, err)
	}
	return res.LastInsertId()
}

// SaveGapBatch inserts many gap records in one transaction.
func (s *Store) SaveGapBatch(ctx context.Context, gaps []model.GapRecord) error {
	if len(gaps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save gap batch: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gap_records (exchange, symbol, from_trade_id, to_trade_id, gap_size, detected_at, synced)
		VALUES (?, ?, ?, ?, ?, ?, 0)`)
	if err != nil {
		return fmt.Errorf("save gap batch: prepare: %w", err)
	}
	defer stmt.Close()

	for _, g := range gaps {
		if _, err := stmt.ExecContext(ctx, g.Exchange, g.Symbol, g.FromTradeID, g.ToTradeID, g.GapSize, g.DetectedAt); err != nil {
			return fmt.Errorf("save gap batch %s:%s: %w", g.Exchange, g.Symbol, err)
		}
	}
	return s.commitTimed(tx)
}

// LoadGaps returns gap records matching the filter, newest first.
func (s *Store) LoadGaps(ctx context.Context, f model.GapFilter) ([]model.GapRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Exchange != "" {
		where = append(where, "exchange = ?")
		args = append(args, f.Exchange)
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.SyncedOnly {
		where = append(where, "synced = 1")
	}

	query := `SELECT id, exchange, symbol, from_trade_id, to_trade_id, gap_size, detected_at, synced, COALESCE(synced_at, 0)
		FROM gap_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY detected_at DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load gaps: %w", err)
	}
	defer rows.Close()

	var out []model.GapRecord
	for rows.Next() {
		var g model.GapRecord
		if err := rows.Scan(&g.ID, &g.Exchange, &g.Symbol, &g.FromTradeID, &g.ToTradeID,
			&g.GapSize, &g.DetectedAt, &g.Synced, &g.SyncedAt); err != nil {
			return nil, fmt.Errorf("load gaps scan: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// MarkGapsSynced flips the synced flag for the given ids. Unknown ids are
// not an error; they are reported in missing.
func (s *Store) MarkGapsSynced(ctx context.Context, ids []int64, syncedAt int64) (updated, missing int, err error) {
	if len(ids) == 0 {
		return 0, 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("mark gaps synced: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE gap_records SET synced = 1, synced_at = ? WHERE id = ?`)
	if err != nil {
		return 0, 0, fmt.Errorf("mark gaps synced: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, syncedAt, id)
		if err != nil {
			return 0, 0, fmt.Errorf("mark gap %d synced: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("mark gap %d synced: rows affected: %w", id, err)
		}
		updated += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return updated, len(ids) - updated, nil
}
