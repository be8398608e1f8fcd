package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory keeps documents in process. Each collection preserves insertion order.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	order []string
	docs  map[string]map[string]any
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

func (m *Memory) collection(name string) *memCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{docs: make(map[string]map[string]any)}
		m.collections[name] = c
	}
	return c
}

func (m *Memory) FindByID(ctx context.Context, collection, id string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, ErrNotFound
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return json.Marshal(doc)
}

func (m *Memory) FindMany(ctx context.Context, collection string, filter Filter) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []json.RawMessage{}
	c, ok := m.collections[collection]
	if !ok {
		return out, nil
	}
	for _, id := range c.order {
		doc := c.docs[id]
		if !filter.Matches(doc) {
			continue
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", id, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func (m *Memory) Upsert(ctx context.Context, collection, id string, patch Patch, conditions Conditions) (json.RawMessage, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	existing, ok := c.docs[id]
	if len(conditions) > 0 {
		if !ok {
			return nil, ErrNotFound
		}
		if !matchAll(existing, conditions) {
			return nil, ErrConditionFailed
		}
	}
	next := merge(existing, patch, id)
	raw, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", id, err)
	}
	if !ok {
		c.order = append(c.order, id)
	}
	c.docs[id] = next
	return raw, nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string, conditions Conditions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return ErrNotFound
	}
	existing, ok := c.docs[id]
	if !ok {
		return ErrNotFound
	}
	if !matchAll(existing, conditions) {
		return ErrConditionFailed
	}
	delete(c.docs, id)
	for i, candidate := range c.order {
		if candidate == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) InsertMany(ctx context.Context, collection string, docs []json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	decoded := make([]map[string]any, 0, len(docs))
	ids := make([]string, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, raw := range docs {
		id, doc, err := docID(raw)
		if err != nil {
			return err
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s/%s", ErrDuplicate, collection, id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		decoded = append(decoded, doc)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	for _, id := range ids {
		if _, exists := c.docs[id]; exists {
			return fmt.Errorf("%w: %s/%s", ErrDuplicate, collection, id)
		}
	}
	for i, id := range ids {
		c.docs[id] = decoded[i]
		c.order = append(c.order, id)
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Close() error {
	return nil
}
