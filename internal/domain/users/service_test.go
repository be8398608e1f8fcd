package users

import (
	"context"
	"errors"
	"strings"
	"testing"

	"evaltrack/internal/domain/errs"
	"evaltrack/internal/platform/recordstore"
)

func strPtr(s string) *string { return &s }

func TestCreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemory())

	u, err := svc.Create(ctx, CreateInput{ID: "emp01", Name: "Ada", Role: "employee", Password: "secret123", Department: "Engineering"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.PasswordHash == "" || strings.Contains(u.PasswordHash, "secret123") {
		t.Fatalf("password must be stored hashed")
	}

	if _, err := svc.Create(ctx, CreateInput{ID: "emp01", Name: "Other", Role: "employee", Password: "secret123"}); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate id: expected conflict, got %v", err)
	}

	if _, err := svc.Authenticate(ctx, "emp01", "secret123"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "emp01", "wrong-pass1"); !errors.Is(err, errs.ErrAuth) {
		t.Fatalf("wrong password: expected auth error, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ghost", "secret123"); !errors.Is(err, errs.ErrAuth) {
		t.Fatalf("unknown user: expected auth error, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(recordstore.NewMemory())
	cases := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{"missing id", CreateInput{Name: "A", Role: "hr", Password: "secret123"}, "id"},
		{"missing name", CreateInput{ID: "a", Role: "hr", Password: "secret123"}, "name"},
		{"unknown role", CreateInput{ID: "a", Name: "A", Role: "admin", Password: "secret123"}, "role"},
		{"short password", CreateInput{ID: "a", Name: "A", Role: "hr", Password: "a1"}, "password"},
		{"no digit", CreateInput{ID: "a", Name: "A", Role: "hr", Password: "passwordonly"}, "password"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.in)
			var verr *errs.ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestEvaluatorAliasNormalized(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemory())
	if _, err := svc.Create(ctx, CreateInput{ID: "mgr01", Name: "Mo", Role: "Evaluator", Password: "secret123"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	role, err := svc.Role(ctx, "mgr01")
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if role != "management" {
		t.Fatalf("expected management, got %s", role)
	}
	managers, err := svc.List(ctx, "evaluator")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(managers) != 1 {
		t.Fatalf("expected 1 manager, got %d", len(managers))
	}
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemory())
	if _, err := svc.Create(ctx, CreateInput{ID: "emp01", Name: "Ada", Role: "employee", Password: "secret123"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.Update(ctx, "emp01", UpdateInput{JobTitle: strPtr("Engineer"), Password: strPtr("newsecret9")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != "emp01" || updated.JobTitle != "Engineer" || updated.Name != "Ada" {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if _, err := svc.Authenticate(ctx, "emp01", "newsecret9"); err != nil {
		t.Fatalf("authenticate with new password: %v", err)
	}
	if _, err := svc.Update(ctx, "emp01", UpdateInput{Role: strPtr("root")}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("invalid role: expected validation, got %v", err)
	}
	if _, err := svc.Update(ctx, "ghost", UpdateInput{Name: strPtr("x")}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("update unknown: expected not found, got %v", err)
	}

	if err := svc.Delete(ctx, "emp01"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, "emp01"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("second delete: expected not found, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemory())
	if _, err := svc.Create(ctx, CreateInput{ID: "emp01", Name: "Ada", Role: "employee", Password: "secret123"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.ChangePassword(ctx, "emp01", "bad-current1", "another123"); !errors.Is(err, errs.ErrAuth) {
		t.Fatalf("wrong current password: expected auth error, got %v", err)
	}
	if err := svc.ChangePassword(ctx, "emp01", "secret123", "secret123"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("same password: expected validation, got %v", err)
	}
	if err := svc.ChangePassword(ctx, "emp01", "secret123", "another123"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "emp01", "another123"); err != nil {
		t.Fatalf("authenticate after change: %v", err)
	}
}

func TestImportHashesPlaintext(t *testing.T) {
	ctx := context.Background()
	svc := NewService(recordstore.NewMemory())
	if err := svc.Import(ctx, User{ID: "legacy", Name: "Old", Role: "evaluator"}, "123"); err != nil {
		t.Fatalf("import: %v", err)
	}
	u, err := svc.Authenticate(ctx, "legacy", "123")
	if err != nil {
		t.Fatalf("authenticate imported user: %v", err)
	}
	if u.Role != "management" || u.PasswordHash == "123" {
		t.Fatalf("unexpected imported user: %+v", u)
	}

	byIDs, err := svc.ListByIDs(ctx, []string{"missing", "legacy"})
	if err != nil {
		t.Fatalf("list by ids: %v", err)
	}
	if len(byIDs) != 1 || byIDs[0].ID != "legacy" {
		t.Fatalf("unexpected list by ids: %+v", byIDs)
	}
}
