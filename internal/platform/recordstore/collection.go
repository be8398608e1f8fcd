package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection is a typed view over one collection of a Store.
type Collection[T any] struct {
	store Store
	name  string
}

func NewCollection[T any](store Store, name string) Collection[T] {
	return Collection[T]{store: store, name: name}
}

func (c Collection[T]) Name() string { return c.name }

func (c Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	raw, err := c.store.FindByID(ctx, c.name, id)
	if err != nil {
		return out, err
	}
	return decode[T](raw)
}

func (c Collection[T]) Find(ctx context.Context, filter Filter) ([]T, error) {
	raws, err := c.store.FindMany(ctx, c.name, filter)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		v, err := decode[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c Collection[T]) Upsert(ctx context.Context, id string, patch Patch, conditions Conditions) (T, error) {
	var out T
	raw, err := c.store.Upsert(ctx, c.name, id, patch, conditions)
	if err != nil {
		return out, err
	}
	return decode[T](raw)
}

func (c Collection[T]) Insert(ctx context.Context, values ...T) error {
	docs := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", c.name, err)
		}
		docs = append(docs, raw)
	}
	return c.store.InsertMany(ctx, c.name, docs)
}

func (c Collection[T]) Delete(ctx context.Context, id string) error {
	return c.store.Delete(ctx, c.name, id, nil)
}

// DeleteIf removes the record only while conditions hold.
func (c Collection[T]) DeleteIf(ctx context.Context, id string, conditions Conditions) error {
	return c.store.Delete(ctx, c.name, id, conditions)
}

// ToPatch flattens a struct into top-level patch fields using its json tags.
func ToPatch(v any) (Patch, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	var patch Patch
	if err := json.Unmarshal(raw, &patch); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	return patch, nil
}

func decode[T any](raw []byte) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode record: %w", err)
	}
	return out, nil
}
