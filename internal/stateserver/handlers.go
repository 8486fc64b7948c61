package stateserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"footprint-systemv1/internal/ipc"
	"footprint-systemv1/internal/model"
)

// actionEnvelope peels the action off a payload before the typed decode.
type actionEnvelope struct {
	Action string `json:"action"`
}

func action(req ipc.Request) (string, error) {
	var env actionEnvelope
	if err := json.Unmarshal(req.Payload, &env); err != nil {
		return "", fmt.Errorf("decode action: %w", err)
	}
	if env.Action == "" {
		return "", fmt.Errorf("payload has no action")
	}
	return env.Action, nil
}

// ── State family ──

type statePayload struct {
	Action    string             `json:"action"`
	Exchange  string             `json:"exchange,omitempty"`
	Symbol    string             `json:"symbol,omitempty"`
	StateJSON string             `json:"stateJson,omitempty"`
	States    []model.StateEntry `json:"states,omitempty"`
	Symbols   []string           `json:"symbols,omitempty"`
}

func (s *Service) handleState(ctx context.Context, req ipc.Request) ipc.Response {
	var p statePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return ipc.Fail(req, fmt.Errorf("decode state payload: %w", err))
	}

	switch p.Action {
	case "save":
		if !s.Healthy() {
			return ipc.Fail(req, errStoreUnhealthy)
		}
		if p.Exchange == "" || p.Symbol == "" {
			return ipc.Fail(req, fmt.Errorf("save requires exchange and symbol"))
		}
		entry := model.StateEntry{
			Exchange:  p.Exchange,
			Symbol:    p.Symbol,
			StateJSON: p.StateJSON,
			UpdatedAt: time.Now().UnixMilli(),
		}
		if err := s.writeResult(s.store.SaveState(ctx, entry)); err != nil {
			return ipc.Fail(req, err)
		}
		return ipc.Ok(req, map[string]int{"saved": 1})

	case "save_batch":
		if !s.Healthy() {
			return ipc.Fail(req, errStoreUnhealthy)
		}
		now := time.Now().UnixMilli()
		for i := range p.States {
			if p.States[i].UpdatedAt == 0 {
				p.States[i].UpdatedAt = now
			}
		}
		if err := s.writeResult(s.store.SaveStateBatch(ctx, p.States)); err != nil {
			return ipc.Fail(req, err)
		}
		return ipc.Ok(req, map[string]int{"saved": len(p.States)})

	case "load":
		stateJSON, found, err := s.store.LoadState(ctx, p.Exchange, p.Symbol)
		if err != nil {
			return ipc.Fail(req, err)
		}
		return ipc.Ok(req, map[string]interface{}{"found": found, "stateJson": stateJSON})

	case "load_batch":
		states, err := s.store.LoadStateBatch(ctx, p.Exchange, p.Symbols)
		if err != nil {
			return ipc.Fail(req, err)
		}
		return ipc.Ok(req, map[string]interface{}{"states": states})

	case "load_all":
		entries, err := s.store.LoadAllStates(ctx, p.Exchange)
		if err != nil {
			return ipc.Fail(req, err)
		}
		return ipc.Ok(req, map[string]interface{}{"states": entries})

	default:
		return ipc.Fail(req, fmt.Errorf("unknown state action %q", p.Action))
	}
}

// ── Gap family ──

type gapPayload struct {
	Action  string            `json:"action"`
	Gap     *model.GapRecord  `json:"gap,omitempty"`
	Gaps    []model.GapRecord `json:"gaps,omitempty"`
	Filters model.GapFilter   `json:"filters,omitempty"`
	IDs     []int64           `json:"ids,omitempty"`
}

func (s *Service) handleGap(ctx context.Context, req ipc.Request) ipc.Response {
	var p gapPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return ipc.Fail(req, fmt.Errorf("decode gap payload: %w", err))
	}

	switch p.Action {
	case "gap_save":
		if !s.Healthy() {
			return ipc.Fail(req, errStoreUnhealthy)
		}
		if p.Gap == nil {
			return ipc.Fail(req, fmt.Errorf("gap_save requires a gap"))
		}
		id, err := s.store.SaveGap(ctx, *p.Gap)
		if err = s.writeResult(err); err != nil {
			return ipc.Fail(req, err)
		}
		return ipc.Ok(req, map[string]int64{"id": id})

	case "gap_save_batch":
		if !s.Healthy() {
			return ipc.Fail(req, errStoreUnhealthy)
		}
		if err := s.writeResult(s.store.SaveGapBatch(ctx, p.Gaps)); err != nil {
			return ipc.Fail(req, err)
		}
		return ipc.Ok(req, map[string]int{"saved": len(p.Gaps)})

	case "gap_load":
		gaps, err := s.store.LoadGaps(ctx, p.Filters)
		if err != nil {
			return ipc.Fail(req, err)
		}
		return ipc.Ok(req, map[string]interface{}{"gaps": gaps})

	case "gap_mark_synced":
		if !s.Healthy() {
			return ipc.Fail(req, errStoreUnhealthy)
		}
		updated, missing, err := s.store.MarkGapsSynced(ctx, p.IDs, time.Now().UnixMilli())
		if err = s.writeResult(err); err != nil {
			return ipc.Fail(req, err)
		}
		return ipc.Ok(req, map[string]int{"updated": updated, "missing": missing})

	default:
		return ipc.Fail(req, fmt.Errorf("unknown gap action %q", p.Action))
	}
}

// ── Queue family ──

type queuePayload struct {
	Action  string          `json:"action"`
	Queue   string          `json:"queue,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// handleQueue is fire-and-forget: the sender never waits, so failures are
// logged here instead of surfacing anywhere.
func (s *Service) handleQueue(ctx context.Context, req ipc.Request) {
	var p queuePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		log.Printf("[stateserver] bad queue payload: %v", err)
		return
	}
	if p.Action != "enqueue" {
		log.Printf("[stateserver] unknown queue action %q", p.Action)
		return
	}
	queue := p.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	if !s.Healthy() {
		log.Printf("[stateserver] enqueue %s rejected: %v", queue, errStoreUnhealthy)
		return
	}
	_, err := s.store.Enqueue(ctx, queue, string(p.Message), time.Now().UnixMilli())
	if err = s.writeResult(err); err != nil {
		log.Printf("[stateserver] enqueue %s: %v", queue, err)
	}
}
