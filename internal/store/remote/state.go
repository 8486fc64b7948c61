// Package remote implements the engine-side persistence ports by speaking
// the framed protocol to the state server over its unix socket.
package remote

import (
	"context"
	"fmt"

	"footprint-systemv1/internal/ipc"
	"footprint-systemv1/internal/model"
)

// StateStore persists candle group snapshots through the state server.
type StateStore struct {
	client *ipc.Client
}

// NewStateStore wraps an established client.
func NewStateStore(client *ipc.Client) *StateStore {
	return &StateStore{client: client}
}

type statePayload struct {
	Action    string             `json:"action"`
	Exchange  string             `json:"exchange,omitempty"`
	Symbol    string             `json:"symbol,omitempty"`
	StateJSON string             `json:"stateJson,omitempty"`
	States    []model.StateEntry `json:"states,omitempty"`
	Symbols   []string           `json:"symbols,omitempty"`
}

func (s *StateStore) call(ctx context.Context, p statePayload) (ipc.Response, error) {
	resp, err := s.client.Call(ctx, ipc.TypeState, p)
	if err != nil {
		return resp, fmt.Errorf("state %s: %w", p.Action, err)
	}
	if !resp.Success {
		return resp, fmt.Errorf("state %s: server: %s", p.Action, resp.Error)
	}
	return resp, nil
}

// SaveState upserts one symbol's snapshot.
func (s *StateStore) SaveState(ctx context.Context, exchange, symbol, stateJSON string) error {
	_, err := s.call(ctx, statePayload{
		Action:    "save",
		Exchange:  exchange,
		Symbol:    symbol,
		StateJSON: stateJSON,
	})
	return err
}

// SaveStateBatch upserts many snapshots atomically.
func (s *StateStore) SaveStateBatch(ctx context.Context, entries []model.StateEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := s.call(ctx, statePayload{Action: "save_batch", States: entries})
	return err
}

// LoadState fetches one symbol's snapshot.
func (s *StateStore) LoadState(ctx context.Context, exchange, symbol string) (string, bool, error) {
	resp, err := s.call(ctx, statePayload{Action: "load", Exchange: exchange, Symbol: symbol})
	if err != nil {
		return "", false, err
	}
	var out struct {
		Found     bool   `json:"found"`
		StateJSON string `json:"stateJson"`
	}
	if err := resp.DecodeData(&out); err != nil {
		return "", false, err
	}
	return out.StateJSON, out.Found, nil
}

// LoadStateBatch fetches the given symbols; absent symbols are omitted.
func (s *StateStore) LoadStateBatch(ctx context.Context, exchange string, symbols []string) (map[string]string, error) {
	resp, err := s.call(ctx, statePayload{Action: "load_batch", Exchange: exchange, Symbols: symbols})
	if err != nil {
		return nil, err
	}
	var out struct {
		States map[string]string `json:"states"`
	}
	if err := resp.DecodeData(&out); err != nil {
		return nil, err
	}
	return out.States, nil
}

// LoadAllStates fetches every stored snapshot.
func (s *StateStore) LoadAllStates(ctx context.Context) ([]model.StateEntry, error) {
	resp, err := s.call(ctx, statePayload{Action: "load_all"})
	if err != nil {
		return nil, err
	}
	var out struct {
		States []model.StateEntry `json:"states"`
	}
	if err := resp.DecodeData(&out); err != nil {
		return nil, err
	}
	return out.States, nil
}
