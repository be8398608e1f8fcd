// Package recordstore is a small document store keyed by (collection, id).
//
// Documents are JSON objects. Writes are shallow top-level merges, optionally
// guarded by equality conditions on the stored document; the condition check
// and the write happen atomically per record on every backend.
package recordstore

import (
	"context"
	"encoding/json"
	"fmt"

	"evaltrack/internal/domain/errs"
)

const (
	Users                = "users"
	Evaluations          = "evaluations"
	EvaluatorAssignments = "evaluatorAssignments"
	MovementLogs         = "movementLogs"
	Sessions             = "sessions"
	AuditEvents          = "auditEvents"
	IdempotencyKeys      = "idempotencyKeys"
)

var (
	ErrNotFound        = fmt.Errorf("record %w", errs.ErrNotFound)
	ErrConditionFailed = fmt.Errorf("record condition failed: %w", errs.ErrConflict)
	ErrDuplicate       = fmt.Errorf("duplicate record: %w", errs.ErrConflict)
	ErrMissingID       = fmt.Errorf("record id: %w", errs.Invalid("id", "is required"))
)

// Patch sets top-level fields. A nil value removes the field.
type Patch map[string]any

// Conditions are equality predicates on top-level fields of the stored document.
type Conditions map[string]any

type Store interface {
	FindByID(ctx context.Context, collection, id string) (json.RawMessage, error)
	FindMany(ctx context.Context, collection string, filter Filter) ([]json.RawMessage, error)
	// Upsert merges patch into the stored document, creating it when absent and
	// conditions is empty. With conditions, a missing record is ErrNotFound and a
	// mismatch is ErrConditionFailed; neither writes anything.
	Upsert(ctx context.Context, collection, id string, patch Patch, conditions Conditions) (json.RawMessage, error)
	// Delete removes a record. With conditions a mismatch is ErrConditionFailed
	// and nothing is removed.
	Delete(ctx context.Context, collection, id string, conditions Conditions) error
	// InsertMany writes all documents or none. Each needs a string "id".
	InsertMany(ctx context.Context, collection string, docs []json.RawMessage) error
	Ping(ctx context.Context) error
	Close() error
}
