package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/errs"
	"evaltrack/internal/domain/users"
	"evaltrack/internal/platform/config"
	"evaltrack/internal/platform/recordstore"
)

// Fixture mirrors the db.json layout used for demo data.
type Fixture struct {
	Users                []fixtureUser     `json:"users"`
	Evaluations          []json.RawMessage `json:"evaluations"`
	EvaluatorAssignments []json.RawMessage `json:"evaluatorAssignments"`
	MovementLogs         []json.RawMessage `json:"movementLogs"`
}

type fixtureUser struct {
	users.User
	Password string `json:"password"`
}

func Seed(ctx context.Context, store recordstore.Store, userService *users.Service, cfg config.Config) error {
	if err := ensureHRUser(ctx, userService, cfg.SeedHRID, cfg.SeedHRPassword); err != nil {
		return err
	}
	if cfg.SeedFile == "" {
		return nil
	}
	raw, err := os.ReadFile(cfg.SeedFile)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var fixture Fixture
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return fmt.Errorf("parse seed file %s: %w", cfg.SeedFile, err)
	}
	return ImportFixture(ctx, store, userService, fixture)
}

func ensureHRUser(ctx context.Context, userService *users.Service, id, password string) error {
	if strings.TrimSpace(id) == "" || password == "" {
		return nil
	}
	if _, err := userService.Get(ctx, id); err == nil {
		return nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	_, err := userService.Create(ctx, users.CreateInput{ID: id, Name: "HR Administrator", Role: auth.RoleHR, Password: password})
	if err != nil && !errors.Is(err, errs.ErrConflict) {
		return fmt.Errorf("seed hr user: %w", err)
	}
	return nil
}

// ImportFixture loads users one by one, skipping ids that already exist, and
// bulk-inserts the other collections only while they are still empty.
func ImportFixture(ctx context.Context, store recordstore.Store, userService *users.Service, fixture Fixture) error {
	for _, fu := range fixture.Users {
		if _, err := userService.Get(ctx, fu.ID); err == nil {
			slog.Info("seed user already exists", "id", fu.ID)
			continue
		}
		password := fu.Password
		if fu.PasswordHash != "" {
			password = ""
		}
		if err := userService.Import(ctx, fu.User, password); err != nil {
			return fmt.Errorf("seed user %s: %w", fu.ID, err)
		}
	}

	collections := []struct {
		name string
		docs []json.RawMessage
	}{
		{recordstore.EvaluatorAssignments, fixture.EvaluatorAssignments},
		{recordstore.Evaluations, fixture.Evaluations},
		{recordstore.MovementLogs, fixture.MovementLogs},
	}
	for _, c := range collections {
		if len(c.docs) == 0 {
			continue
		}
		existing, err := store.FindMany(ctx, c.name, recordstore.Filter{})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			slog.Info("seed skipped, collection not empty", "collection", c.name)
			continue
		}
		docs, err := withIDs(c.docs)
		if err != nil {
			return fmt.Errorf("seed %s: %w", c.name, err)
		}
		if err := store.InsertMany(ctx, c.name, docs); err != nil {
			return fmt.Errorf("seed %s: %w", c.name, err)
		}
		slog.Info("seeded collection", "collection", c.name, "count", len(docs))
	}
	return nil
}

// withIDs gives every document a string id, generating one when absent.
func withIDs(docs []json.RawMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(docs))
	for _, raw := range docs {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		if id, ok := doc["id"].(string); !ok || id == "" {
			doc["id"] = uuid.NewString()
		}
		delete(doc, "_id")
		encoded, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded)
	}
	return out, nil
}
