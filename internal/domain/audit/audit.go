package audit

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"evaltrack/internal/platform/recordstore"
)

type Event struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actorId"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	RequestID  string          `json:"requestId"`
	IP         string          `json:"ip"`
	CreatedAt  time.Time       `json:"createdAt"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
}

type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	ActorUser  string
}

func (f Filter) where() map[string]any {
	where := map[string]any{}
	if f.Action != "" {
		where["action"] = f.Action
	}
	if f.EntityType != "" {
		where["entityType"] = f.EntityType
	}
	if f.EntityID != "" {
		where["entityId"] = f.EntityID
	}
	if f.ActorUser != "" {
		where["actorId"] = f.ActorUser
	}
	return where
}

// Entry is what a caller knows about an action when recording it.
type Entry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	RequestID  string
	IP         string
	Before     any
	After      any
}

type Service struct {
	events recordstore.Collection[Event]
	now    func() time.Time
}

func New(store recordstore.Store) *Service {
	return &Service{events: recordstore.NewCollection[Event](store, recordstore.AuditEvents), now: time.Now}
}

func (s *Service) Record(ctx context.Context, e Entry) error {
	evt := Event{
		ID:         uuid.NewString(),
		ActorID:    e.ActorID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		RequestID:  e.RequestID,
		IP:         e.IP,
		CreatedAt:  s.now().UTC(),
	}
	var err error
	if evt.Before, err = snapshot(e.Before); err != nil {
		return err
	}
	if evt.After, err = snapshot(e.After); err != nil {
		return err
	}
	return s.events.Insert(ctx, evt)
}

func (s *Service) Count(ctx context.Context, filter Filter) (int, error) {
	events, err := s.events.Find(ctx, recordstore.Filter{Where: filter.where()})
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// List returns events newest first. Before/After are dropped unless includeDetails.
func (s *Service) List(ctx context.Context, filter Filter, includeDetails bool, limit, offset int) ([]Event, error) {
	events, err := s.events.Find(ctx, recordstore.Filter{Where: filter.where()})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	if offset > len(events) {
		offset = len(events)
	}
	events = events[offset:]
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	if !includeDetails {
		for i := range events {
			events[i].Before = nil
			events[i].After = nil
		}
	}
	return events, nil
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
