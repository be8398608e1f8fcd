package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/errs"
	"evaltrack/internal/platform/recordstore"
)

const MinPasswordLength = 8

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"passwordHash"`
	Department   string    `json:"department"`
	JobTitle     string    `json:"jobTitle"`
	Email        string    `json:"email"`
	MFAEnabled   bool      `json:"mfaEnabled"`
	MFASecretEnc string    `json:"mfaSecretEnc"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Profile is a User without credentials.
type Profile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	JobTitle   string `json:"jobTitle,omitempty"`
	Email      string `json:"email,omitempty"`
	MFAEnabled bool   `json:"mfaEnabled"`
}

func (u User) Profile() Profile {
	return Profile{
		ID:         u.ID,
		Name:       u.Name,
		Role:       u.Role,
		Department: u.Department,
		JobTitle:   u.JobTitle,
		Email:      u.Email,
		MFAEnabled: u.MFAEnabled,
	}
}

type CreateInput struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Password   string `json:"password"`
	Department string `json:"department"`
	JobTitle   string `json:"jobTitle"`
	Email      string `json:"email"`
}

type UpdateInput struct {
	Name       *string `json:"name"`
	Role       *string `json:"role"`
	Password   *string `json:"password"`
	Department *string `json:"department"`
	JobTitle   *string `json:"jobTitle"`
	Email      *string `json:"email"`
}

type Service struct {
	users recordstore.Collection[User]
	now   func() time.Time
}

func NewService(store recordstore.Store) *Service {
	return &Service{users: recordstore.NewCollection[User](store, recordstore.Users), now: time.Now}
}

func (s *Service) Get(ctx context.Context, id string) (User, error) {
	u, err := s.users.Get(ctx, id)
	if err != nil {
		return User{}, fmt.Errorf("user %s: %w", id, err)
	}
	return u, nil
}

// Role satisfies assignment.Directory.
func (s *Service) Role(ctx context.Context, id string) (string, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

func (s *Service) List(ctx context.Context, role string) ([]User, error) {
	filter := recordstore.Filter{}
	if role != "" {
		canonical := auth.NormalizeRole(role)
		if canonical == "" {
			return nil, errs.Invalid("role", "unknown role")
		}
		filter = recordstore.Eq("role", canonical)
	}
	return s.users.Find(ctx, filter)
}

// ListByIDs keeps the order of ids and skips unknown ones.
func (s *Service) ListByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}
	found, err := s.users.Find(ctx, recordstore.Filter{In: map[string][]string{"id": ids}})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]User, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}
	out := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (User, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.Name = strings.TrimSpace(in.Name)
	if in.ID == "" {
		return User{}, errs.Invalid("id", "is required")
	}
	if in.Name == "" {
		return User{}, errs.Invalid("name", "is required")
	}
	role := auth.NormalizeRole(in.Role)
	if role == "" {
		return User{}, errs.Invalid("role", "must be hr, management or employee")
	}
	if err := ValidatePassword(in.Password); err != nil {
		return User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	u := User{
		ID:           in.ID,
		Name:         in.Name,
		Role:         role,
		PasswordHash: hash,
		Department:   strings.TrimSpace(in.Department),
		JobTitle:     strings.TrimSpace(in.JobTitle),
		Email:        strings.TrimSpace(in.Email),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Insert(ctx, u); err != nil {
		if errors.Is(err, recordstore.ErrDuplicate) {
			return User{}, fmt.Errorf("%w: user %s already exists", errs.ErrConflict, in.ID)
		}
		return User{}, err
	}
	return u, nil
}

// Import stores a user from a fixture. Plaintext passwords are hashed and the
// strength policy is skipped so legacy accounts keep working.
func (s *Service) Import(ctx context.Context, u User, plaintextPassword string) error {
	role := auth.NormalizeRole(u.Role)
	if u.ID == "" || role == "" {
		return errs.Invalid("user", fmt.Sprintf("fixture user %q has no id or an unknown role %q", u.ID, u.Role))
	}
	u.Role = role
	if plaintextPassword != "" {
		hash, err := auth.HashPassword(plaintextPassword)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = hash
	}
	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return s.users.Insert(ctx, u)
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (User, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return User{}, err
	}
	patch := recordstore.Patch{"updatedAt": s.now().UTC()}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return User{}, errs.Invalid("name", "cannot be empty")
		}
		patch["name"] = name
	}
	if in.Role != nil {
		role := auth.NormalizeRole(*in.Role)
		if role == "" {
			return User{}, errs.Invalid("role", "must be hr, management or employee")
		}
		patch["role"] = role
	}
	if in.Password != nil {
		if err := ValidatePassword(*in.Password); err != nil {
			return User{}, err
		}
		hash, err := auth.HashPassword(*in.Password)
		if err != nil {
			return User{}, fmt.Errorf("hash password: %w", err)
		}
		patch["passwordHash"] = hash
	}
	if in.Department != nil {
		patch["department"] = strings.TrimSpace(*in.Department)
	}
	if in.JobTitle != nil {
		patch["jobTitle"] = strings.TrimSpace(*in.JobTitle)
	}
	if in.Email != nil {
		patch["email"] = strings.TrimSpace(*in.Email)
	}
	updated, err := s.users.Upsert(ctx, id, patch, recordstore.Conditions{"id": id})
	if err != nil {
		return User{}, fmt.Errorf("user %s: %w", id, err)
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return fmt.Errorf("user %s: %w", id, err)
	}
	return nil
}

// Authenticate checks credentials. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, id, password string) (User, error) {
	u, err := s.users.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return User{}, fmt.Errorf("%w: invalid credentials", errs.ErrAuth)
		}
		return User{}, err
	}
	if u.PasswordHash == "" || auth.CheckPassword(u.PasswordHash, password) != nil {
		return User{}, fmt.Errorf("%w: invalid credentials", errs.ErrAuth)
	}
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if auth.CheckPassword(u.PasswordHash, current) != nil {
		return fmt.Errorf("%w: current password is incorrect", errs.ErrAuth)
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	if current == next {
		return errs.Invalid("newPassword", "must differ from the current password")
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = s.users.Upsert(ctx, id, recordstore.Patch{"passwordHash": hash, "updatedAt": s.now().UTC()}, recordstore.Conditions{"passwordHash": u.PasswordHash})
	if errors.Is(err, recordstore.ErrConditionFailed) {
		return fmt.Errorf("password for %s changed concurrently: %w", id, errs.ErrConflict)
	}
	return err
}

func (s *Service) SetMFASecret(ctx context.Context, id, secretEnc string) error {
	_, err := s.users.Upsert(ctx, id, recordstore.Patch{"mfaSecretEnc": secretEnc, "mfaEnabled": false, "updatedAt": s.now().UTC()}, recordstore.Conditions{"id": id})
	return err
}

func (s *Service) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.users.Upsert(ctx, id, recordstore.Patch{"mfaEnabled": enabled, "updatedAt": s.now().UTC()}, recordstore.Conditions{"id": id})
	return err
}

// ValidatePassword requires a minimum length with a letter and a digit.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errs.Invalid("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return errs.Invalid("password", "must contain a letter and a digit")
	}
	return nil
}
