package sqlite

import (
	"context"
	"fmt"
)

// QueueItem is one durable message awaiting delivery to a downstream
// consumer.
type QueueItem struct {
	ID        int64  `json:"id"`
	QueueName string `json:"queueName"`
	Payload   string `json:"payload"`
	CreatedAt int64  `json:"createdAt"`
}

// Enqueue appends a message to the named queue.
func (s *Store) Enqueue(ctx context.Context, queueName, payload string, createdAt int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO message_queue (queue_name, payload, created_at, processed)
		VALUES (?, ?, ?, 0)`,
		queueName, payload, createdAt)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", queueName, err)
	}
	return res.LastInsertId()
}

// DequeueBatch returns up to limit unprocessed messages in insertion order.
// Messages stay in the queue until MarkProcessed.
func (s *Store) DequeueBatch(ctx context.Context, queueName string, limit int) ([]QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, queue_name, payload, created_at
		FROM message_queue
		WHERE queue_name = ? AND processed = 0
		ORDER BY id ASC
		LIMIT ?`,
		queueName, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", queueName, err)
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		var item QueueItem
		if err := rows.Scan(&item.ID, &item.QueueName, &item.Payload, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("dequeue scan: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkProcessed flags delivered messages so the poller skips them.
func (s *Store) MarkProcessed(ctx context.Context, ids []int64, processedAt int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark processed: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE message_queue SET processed = 1, processed_at = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("mark processed: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, processedAt, id); err != nil {
			return fmt.Errorf("mark processed %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// PruneProcessed deletes processed messages created before cutoff and
// returns how many rows went away.
func (s *Store) PruneProcessed(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM message_queue WHERE processed = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune processed: %w", err)
	}
	return res.RowsAffected()
}

// QueueDepth reports how many unprocessed messages the named queue holds.
func (s *Store) QueueDepth(ctx context.Context, queueName string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM message_queue WHERE queue_name = ? AND processed = 0`,
		queueName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth %s: %w", queueName, err)
	}
	return n, nil
}
