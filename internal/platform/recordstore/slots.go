package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"evaltrack/internal/domain/errs"
)

// ErrSlotTaken is returned by Claim when another holder owns the key.
var ErrSlotTaken = fmt.Errorf("slot taken: %w", errs.ErrConflict)

// claimGrace is how long a slot may name a holder whose record does not exist
// yet. Claims are written before the holder record is inserted.
const claimGrace = time.Minute

// Slots enforces "at most one holder per key" across records, built on the
// per-record conditional upsert. A slot document is {id, holder, claimedAt}.
type Slots struct {
	store      Store
	collection string
	live       Liveness
	now        func() time.Time
}

// Resolve reports the current holder for a key whose slot document does not
// exist yet, e.g. for data imported without going through Claim.
type Resolve func(ctx context.Context) (string, error)

// Liveness reports whether holder still backs its slot. An error wrapping
// errs.ErrNotFound means the holder record is missing.
type Liveness func(ctx context.Context, holder string) (bool, error)

type slot struct {
	Holder    string    `json:"holder"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// NewSlots builds slots over collection. With a nil live every non-empty
// holder is treated as live.
func NewSlots(store Store, collection string, live Liveness) Slots {
	return Slots{store: store, collection: collection, live: live, now: time.Now}
}

// WithClock returns a copy of s that reads time from now.
func (s Slots) WithClock(now func() time.Time) Slots {
	s.now = now
	return s
}

// Claim takes key for holder. A slot held by a stale holder, one whose
// release was lost, is taken over.
func (s Slots) Claim(ctx context.Context, key, holder string, resolve Resolve) error {
	if err := s.ensure(ctx, key, resolve); err != nil {
		return err
	}
	patch := Patch{"holder": holder, "claimedAt": s.now().UTC()}
	_, err := s.store.Upsert(ctx, s.collection, key, patch, Conditions{"holder": ""})
	if !errors.Is(err, ErrConditionFailed) {
		return err
	}

	current, err := s.read(ctx, key)
	if err != nil {
		return err
	}
	stale, err := s.stale(ctx, current)
	if err != nil {
		return err
	}
	if !stale {
		return ErrSlotTaken
	}
	slog.Warn("taking over stale slot", "collection", s.collection, "key", key, "stale", current.Holder, "holder", holder)
	_, err = s.store.Upsert(ctx, s.collection, key, patch, Conditions{"holder": current.Holder})
	if errors.Is(err, ErrConditionFailed) {
		return ErrSlotTaken
	}
	return err
}

// Release frees the slot if holder still owns it.
func (s Slots) Release(ctx context.Context, key, holder string) error {
	_, err := s.store.Upsert(ctx, s.collection, key, Patch{"holder": ""}, Conditions{"holder": holder})
	if errors.Is(err, ErrConditionFailed) {
		return ErrSlotTaken
	}
	return err
}

// Holder returns the live holder of key, or "" when the slot is free or its
// holder is stale.
func (s Slots) Holder(ctx context.Context, key string, resolve Resolve) (string, error) {
	if err := s.ensure(ctx, key, resolve); err != nil {
		return "", err
	}
	current, err := s.read(ctx, key)
	if err != nil {
		return "", err
	}
	if current.Holder == "" {
		return "", nil
	}
	stale, err := s.stale(ctx, current)
	if err != nil {
		return "", err
	}
	if !stale {
		return current.Holder, nil
	}
	if err := s.Release(ctx, key, current.Holder); err != nil && !errors.Is(err, ErrSlotTaken) {
		slog.Warn("clear stale slot failed", "collection", s.collection, "key", key, "err", err)
	}
	return "", nil
}

func (s Slots) read(ctx context.Context, key string) (slot, error) {
	raw, err := s.store.FindByID(ctx, s.collection, key)
	if err != nil {
		return slot{}, err
	}
	var current slot
	if err := json.Unmarshal(raw, &current); err != nil {
		return slot{}, fmt.Errorf("decode slot %s: %w", key, err)
	}
	return current, nil
}

func (s Slots) stale(ctx context.Context, current slot) (bool, error) {
	if current.Holder == "" {
		return true, nil
	}
	if s.live == nil {
		return false, nil
	}
	live, err := s.live(ctx, current.Holder)
	if errors.Is(err, errs.ErrNotFound) {
		return s.now().Sub(current.ClaimedAt) > claimGrace, nil
	}
	if err != nil {
		return false, err
	}
	return !live, nil
}

func (s Slots) ensure(ctx context.Context, key string, resolve Resolve) error {
	_, err := s.store.FindByID(ctx, s.collection, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	holder := ""
	if resolve != nil {
		if holder, err = resolve(ctx); err != nil {
			return err
		}
	}
	raw, err := json.Marshal(map[string]string{"id": key, "holder": holder})
	if err != nil {
		return err
	}
	err = s.store.InsertMany(ctx, s.collection, []json.RawMessage{raw})
	if err != nil && !errors.Is(err, ErrDuplicate) {
		return err
	}
	return nil
}
