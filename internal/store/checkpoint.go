package store

import (
	"context"
	"fmt"
)

// Checkpoint keys. They are part of the on-disk format: renaming one
// orphans every existing checkpoint.
const (
	KeyCurrentState  = "push.current_state"
	KeyPendingLength = "push.pending_events.length"
	pendingPrefix    = "push.pending_events["
	payloadKeySuffix = ".payload"
)

// PendingEvent is the stored form of one queued activation event.
type PendingEvent struct {
	// Kind is the event tag.
	Kind string `json:"kind"`

	// Payload is the canonical JSON payload, empty for tag-only events.
	Payload string `json:"payload,omitempty"`
}

// Checkpoint is the durable snapshot of the activation machine.
type Checkpoint struct {
	// State is the last persistable state tag. Empty means "never saved"
	// on load, and "leave the stored state alone" on save.
	State string `json:"state"`

	// Pending is the ordered pending event queue.
	Pending []PendingEvent `json:"pending"`
}

func pendingKey(i int) string {
	return fmt.Sprintf("%s%d]", pendingPrefix, i)
}

// LoadCheckpoint reads the checkpoint. A store that was never written
// returns an empty Checkpoint.
func (s *Store) LoadCheckpoint(ctx context.Context) (Checkpoint, error) {
	var cp Checkpoint

	state, _, err := s.GetString(ctx, KeyCurrentState)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.State = state

	n, err := s.GetInt(ctx, KeyPendingLength, 0)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}

	cp.Pending = make([]PendingEvent, 0, n)
	for i := 0; i < n; i++ {
		kind, ok, err := s.GetString(ctx, pendingKey(i))
		if err != nil {
			return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
		}
		if !ok {
			return Checkpoint{}, fmt.Errorf("load checkpoint: pending event %d of %d missing", i, n)
		}
		payload, _, err := s.GetString(ctx, pendingKey(i)+payloadKeySuffix)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
		}
		cp.Pending = append(cp.Pending, PendingEvent{Kind: kind, Payload: payload})
	}

	return cp, nil
}

// SaveCheckpoint writes the checkpoint in one transaction.
//
// The pending queue is always replaced wholesale. The state key is written
// only when cp.State is non-empty, so callers in a transient state keep the
// previously saved persistable state on disk.
func (s *Store) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	b := NewBatch()
	StageCheckpoint(b, cp)
	if err := s.Commit(ctx, b); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// StageCheckpoint appends the checkpoint writes to b so they can be
// committed together with other keys.
func StageCheckpoint(b *Batch, cp Checkpoint) {
	if cp.State != "" {
		b.PutString(KeyCurrentState, cp.State)
	}

	b.DeletePrefix(pendingPrefix)
	b.PutInt(KeyPendingLength, len(cp.Pending))
	for i, ev := range cp.Pending {
		b.PutString(pendingKey(i), ev.Kind)
		if ev.Payload != "" {
			b.PutString(pendingKey(i)+payloadKeySuffix, ev.Payload)
		}
	}
}
