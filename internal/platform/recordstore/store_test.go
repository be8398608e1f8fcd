package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"evaltrack/internal/domain/errs"
)

type doc struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Status string `json:"status"`
	Count  int    `json:"count"`
	Note   string `json:"note,omitempty"`
}

func openSQLite(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	s, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": openSQLite,
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range backends(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Run("upsert creates then merges", func(t *testing.T) {
				ctx := context.Background()
				docs := NewCollection[doc](open(t), "docs")

				created, err := docs.Upsert(ctx, "a", Patch{"owner": "u1", "status": "DRAFT", "note": "x"}, nil)
				if err != nil {
					t.Fatalf("upsert: %v", err)
				}
				if created.ID != "a" || created.Owner != "u1" {
					t.Fatalf("unexpected created doc: %+v", created)
				}

				merged, err := docs.Upsert(ctx, "a", Patch{"status": "DONE", "note": nil}, nil)
				if err != nil {
					t.Fatalf("merge: %v", err)
				}
				if merged.Owner != "u1" || merged.Status != "DONE" || merged.Note != "" {
					t.Fatalf("shallow merge lost or kept wrong fields: %+v", merged)
				}
			})

			t.Run("conditional upsert", func(t *testing.T) {
				ctx := context.Background()
				store := open(t)
				docs := NewCollection[doc](store, "docs")

				if _, err := docs.Upsert(ctx, "missing", Patch{"status": "X"}, Conditions{"status": "DRAFT"}); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected not found, got %v", err)
				}
				if _, err := store.FindByID(ctx, "docs", "missing"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("conditional upsert must not create, got %v", err)
				}

				if _, err := docs.Upsert(ctx, "a", Patch{"status": "DRAFT", "count": 1}, nil); err != nil {
					t.Fatalf("seed: %v", err)
				}
				if _, err := docs.Upsert(ctx, "a", Patch{"status": "SENT"}, Conditions{"status": "DONE"}); !errors.Is(err, errs.ErrConflict) {
					t.Fatalf("expected conflict, got %v", err)
				}
				got, err := docs.Get(ctx, "a")
				if err != nil {
					t.Fatalf("get: %v", err)
				}
				if got.Status != "DRAFT" {
					t.Fatalf("failed condition mutated record: %+v", got)
				}
				if _, err := docs.Upsert(ctx, "a", Patch{"status": "SENT"}, Conditions{"status": "DRAFT", "count": 1}); err != nil {
					t.Fatalf("matching condition: %v", err)
				}
			})

			t.Run("find many keeps insertion order", func(t *testing.T) {
				ctx := context.Background()
				docs := NewCollection[doc](open(t), "docs")
				for _, d := range []doc{
					{ID: "3", Owner: "u1", Status: "DRAFT"},
					{ID: "1", Owner: "u2", Status: "DONE"},
					{ID: "2", Owner: "u1", Status: "DONE"},
				} {
					if err := docs.Insert(ctx, d); err != nil {
						t.Fatalf("insert %s: %v", d.ID, err)
					}
				}

				all, err := docs.Find(ctx, Filter{})
				if err != nil {
					t.Fatalf("find: %v", err)
				}
				if len(all) != 3 || all[0].ID != "3" || all[1].ID != "1" || all[2].ID != "2" {
					t.Fatalf("unexpected order: %+v", all)
				}

				owned, _ := docs.Find(ctx, Eq("owner", "u1"))
				if len(owned) != 2 {
					t.Fatalf("expected 2 owned docs, got %d", len(owned))
				}

				either, _ := docs.Find(ctx, Filter{AnyOf: []map[string]any{{"owner": "u2"}, {"status": "DRAFT"}}})
				if len(either) != 2 || either[0].ID != "3" || either[1].ID != "1" {
					t.Fatalf("unexpected OR result: %+v", either)
				}

				in, _ := docs.Find(ctx, Filter{In: map[string][]string{"id": {"1", "2"}}, Where: map[string]any{"status": "DONE"}})
				if len(in) != 2 {
					t.Fatalf("unexpected IN result: %+v", in)
				}
			})

			t.Run("insert many is all or nothing", func(t *testing.T) {
				ctx := context.Background()
				store := open(t)
				docs := NewCollection[doc](store, "docs")
				if err := docs.Insert(ctx, doc{ID: "a"}); err != nil {
					t.Fatalf("insert: %v", err)
				}
				err := docs.Insert(ctx, doc{ID: "b"}, doc{ID: "a"})
				if !errors.Is(err, ErrDuplicate) {
					t.Fatalf("expected duplicate, got %v", err)
				}
				if _, err := store.FindByID(ctx, "docs", "b"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("partial insert leaked record b: %v", err)
				}
				if err := store.InsertMany(ctx, "docs", []json.RawMessage{json.RawMessage(`{"owner":"x"}`)}); !errors.Is(err, errs.ErrValidation) {
					t.Fatalf("expected missing id validation error, got %v", err)
				}
			})

			t.Run("delete", func(t *testing.T) {
				ctx := context.Background()
				store := open(t)
				docs := NewCollection[doc](store, "docs")
				_ = docs.Insert(ctx, doc{ID: "a"})
				if err := docs.Delete(ctx, "a"); err != nil {
					t.Fatalf("delete: %v", err)
				}
				if err := docs.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected not found, got %v", err)
				}

				_ = docs.Insert(ctx, doc{ID: "c", Owner: "x"})
				if err := docs.DeleteIf(ctx, "c", Conditions{"owner": "y"}); !errors.Is(err, ErrConditionFailed) {
					t.Fatalf("expected condition failure, got %v", err)
				}
				if _, err := docs.Get(ctx, "c"); err != nil {
					t.Fatalf("failed conditional delete removed the record: %v", err)
				}
				if err := docs.DeleteIf(ctx, "c", Conditions{"owner": "x"}); err != nil {
					t.Fatalf("conditional delete: %v", err)
				}
			})
		})
	}
}

func TestMemoryConditionalUpsertSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	if _, err := store.Upsert(ctx, "docs", "a", Patch{"status": "DRAFT"}, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Upsert(ctx, "docs", "a", Patch{"status": "SENT"}, Conditions{"status": "DRAFT"}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestSlots(t *testing.T) {
	ctx := context.Background()
	slots := NewSlots(NewMemory(), "locks", nil)

	if err := slots.Claim(ctx, "emp-1", "m1", nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := slots.Claim(ctx, "emp-1", "m2", nil); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected slot taken, got %v", err)
	}
	if err := slots.Release(ctx, "emp-1", "m2"); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("non-holder release should fail, got %v", err)
	}
	if err := slots.Release(ctx, "emp-1", "m1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := slots.Claim(ctx, "emp-1", "m2", nil); err != nil {
		t.Fatalf("reclaim: %v", err)
	}

	resolved := func(context.Context) (string, error) { return "legacy", nil }
	holder, err := slots.Holder(ctx, "emp-2", resolved)
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if holder != "legacy" {
		t.Fatalf("expected resolved holder, got %q", holder)
	}
	if err := slots.Claim(ctx, "emp-2", "m3", resolved); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("resolved holder should block claim, got %v", err)
	}
}
