package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"evaltrack/internal/platform/querier"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgFindByIDSQL = `SELECT body FROM records WHERE collection = $1 AND id = $2`
	pgLockSQL     = `SELECT body FROM records WHERE collection = $1 AND id = $2 FOR UPDATE`
	pgUpsertSQL   = `INSERT INTO records (collection, id, body) VALUES ($1, $2, $3::jsonb)
ON CONFLICT (collection, id) DO UPDATE SET body = (records.body || EXCLUDED.body) - $4::text[], updated_at = now()
RETURNING body`
	pgUpdateSQL = `UPDATE records SET body = (body || $3::jsonb) - $4::text[], updated_at = now()
WHERE collection = $1 AND id = $2
RETURNING body`
	pgDeleteSQL = `DELETE FROM records WHERE collection = $1 AND id = $2`
	pgInsertSQL = `INSERT INTO records (collection, id, body) VALUES ($1, $2, $3::jsonb)`
)

// Postgres stores documents as jsonb rows in the records table.
type Postgres struct {
	db querier.Querier
}

func NewPostgres(db querier.Querier) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) FindByID(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var body []byte
	if err := p.db.QueryRow(ctx, pgFindByIDSQL, collection, id).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find %s/%s: %w", collection, id, err)
	}
	return body, nil
}

func (p *Postgres) FindMany(ctx context.Context, collection string, filter Filter) ([]json.RawMessage, error) {
	query, args, err := buildFindMany(collection, filter)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		out = append(out, body)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return out, nil
}

// buildFindMany turns a Filter into jsonb containment predicates ordered by insertion.
func buildFindMany(collection string, filter Filter) (string, []any, error) {
	var b strings.Builder
	args := []any{collection}
	b.WriteString("SELECT body FROM records WHERE collection = $1")

	if len(filter.Where) > 0 {
		raw, err := json.Marshal(filter.Where)
		if err != nil {
			return "", nil, fmt.Errorf("encode filter: %w", err)
		}
		args = append(args, string(raw))
		b.WriteString(" AND body @> $" + strconv.Itoa(len(args)) + "::jsonb")
	}
	if len(filter.AnyOf) > 0 {
		parts := make([]string, 0, len(filter.AnyOf))
		for _, group := range filter.AnyOf {
			raw, err := json.Marshal(group)
			if err != nil {
				return "", nil, fmt.Errorf("encode filter: %w", err)
			}
			args = append(args, string(raw))
			parts = append(parts, "body @> $"+strconv.Itoa(len(args))+"::jsonb")
		}
		b.WriteString(" AND (" + strings.Join(parts, " OR ") + ")")
	}
	fields := make([]string, 0, len(filter.In))
	for field := range filter.In {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		args = append(args, field)
		keyArg := len(args)
		args = append(args, filter.In[field])
		b.WriteString(" AND body ->> $" + strconv.Itoa(keyArg) + " = ANY($" + strconv.Itoa(len(args)) + "::text[])")
	}
	b.WriteString(" ORDER BY seq")
	return b.String(), args, nil
}

func (p *Postgres) Upsert(ctx context.Context, collection, id string, patch Patch, conditions Conditions) (json.RawMessage, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	set, unset := splitPatch(patch, id)
	raw, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}

	if len(conditions) == 0 {
		var body []byte
		if err := p.db.QueryRow(ctx, pgUpsertSQL, collection, id, string(raw), unset).Scan(&body); err != nil {
			return nil, fmt.Errorf("upsert %s/%s: %w", collection, id, err)
		}
		return body, nil
	}

	var body []byte
	err = p.withTx(ctx, func(tx pgx.Tx) error {
		var current []byte
		if err := tx.QueryRow(ctx, pgLockSQL, collection, id).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock %s/%s: %w", collection, id, err)
		}
		doc, err := decodeDoc(current)
		if err != nil {
			return err
		}
		if !matchAll(doc, conditions) {
			return ErrConditionFailed
		}
		if err := tx.QueryRow(ctx, pgUpdateSQL, collection, id, string(raw), unset).Scan(&body); err != nil {
			return fmt.Errorf("update %s/%s: %w", collection, id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (p *Postgres) Delete(ctx context.Context, collection, id string, conditions Conditions) error {
	if len(conditions) == 0 {
		return p.deleteRow(ctx, p.db, collection, id)
	}
	return p.withTx(ctx, func(tx pgx.Tx) error {
		var current []byte
		if err := tx.QueryRow(ctx, pgLockSQL, collection, id).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock %s/%s: %w", collection, id, err)
		}
		doc, err := decodeDoc(current)
		if err != nil {
			return err
		}
		if !matchAll(doc, conditions) {
			return ErrConditionFailed
		}
		return p.deleteRow(ctx, tx, collection, id)
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (p *Postgres) deleteRow(ctx context.Context, db execer, collection, id string) error {
	tag, err := db.Exec(ctx, pgDeleteSQL, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) InsertMany(ctx context.Context, collection string, docs []json.RawMessage) error {
	if len(docs) == 0 {
		return nil
	}
	return p.withTx(ctx, func(tx pgx.Tx) error {
		for _, raw := range docs {
			id, _, err := docID(raw)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, pgInsertSQL, collection, id, string(raw)); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23505" {
					return fmt.Errorf("%w: %s/%s", ErrDuplicate, collection, id)
				}
				return fmt.Errorf("insert %s/%s: %w", collection, id, err)
			}
		}
		return nil
	})
}

// withTx runs fn in a transaction, rolling back when fn fails.
func (p *Postgres) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (p *Postgres) Close() error {
	return nil
}
