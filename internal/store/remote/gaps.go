package remote

import (
	"context"
	"fmt"

	"footprint-systemv1/internal/ipc"
	"footprint-systemv1/internal/model"
)

// GapStore persists gap records through the state server.
type GapStore struct {
	client *ipc.Client
}

// NewGapStore wraps an established client.
func NewGapStore(client *ipc.Client) *GapStore {
	return &GapStore{client: client}
}

type gapPayload struct {
	Action  string            `json:"action"`
	Gap     *model.GapRecord  `json:"gap,omitempty"`
	Gaps    []model.GapRecord `json:"gaps,omitempty"`
	Filters *model.GapFilter  `json:"filters,omitempty"`
	IDs     []int64           `json:"ids,omitempty"`
}

func (s *GapStore) call(ctx context.Context, p gapPayload) (ipc.Response, error) {
	resp, err := s.client.Call(ctx, ipc.TypeGap, p)
	if err != nil {
		return resp, fmt.Errorf("gap %s: %w", p.Action, err)
	}
	if !resp.Success {
		return resp, fmt.Errorf("gap %s: server: %s", p.Action, resp.Error)
	}
	return resp, nil
}

// SaveGap inserts one record and returns the id the store assigned.
func (s *GapStore) SaveGap(ctx context.Context, g model.GapRecord) (int64, error) {
	resp, err := s.call(ctx, gapPayload{Action: "gap_save", Gap: &g})
	if err != nil {
		return 0, err
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := resp.DecodeData(&out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// SaveGapBatch inserts many records atomically.
func (s *GapStore) SaveGapBatch(ctx context.Context, gaps []model.GapRecord) error {
	if len(gaps) == 0 {
		return nil
	}
	_, err := s.call(ctx, gapPayload{Action: "gap_save_batch", Gaps: gaps})
	return err
}

// LoadGaps returns matching records, newest first.
func (s *GapStore) LoadGaps(ctx context.Context, f model.GapFilter) ([]model.GapRecord, error) {
	resp, err := s.call(ctx, gapPayload{Action: "gap_load", Filters: &f})
	if err != nil {
		return nil, err
	}
	var out struct {
		Gaps []model.GapRecord `json:"gaps"`
	}
	if err := resp.DecodeData(&out); err != nil {
		return nil, err
	}
	return out.Gaps, nil
}

// MarkGapsSynced flips the synced flag by id; unknown ids count as missing.
func (s *GapStore) MarkGapsSynced(ctx context.Context, ids []int64) (int, int, error) {
	resp, err := s.call(ctx, gapPayload{Action: "gap_mark_synced", IDs: ids})
	if err != nil {
		return 0, 0, err
	}
	var out struct {
		Updated int `json:"updated"`
		Missing int `json:"missing"`
	}
	if err := resp.DecodeData(&out); err != nil {
		return 0, 0, err
	}
	return out.Updated, out.Missing, nil
}
