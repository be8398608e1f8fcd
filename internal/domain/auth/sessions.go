package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"evaltrack/internal/domain/errs"
	"evaltrack/internal/platform/recordstore"
)

var ErrSessionInvalid = fmt.Errorf("session expired or revoked: %w", errs.ErrAuth)

// Session is keyed by the hash of the opaque session id carried in the JWT.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"createdAt"`
}

type Sessions struct {
	sessions recordstore.Collection[Session]
	ttl      time.Duration
	now      func() time.Time
}

func NewSessions(store recordstore.Store, ttl time.Duration) *Sessions {
	return &Sessions{
		sessions: recordstore.NewCollection[Session](store, recordstore.Sessions),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Start opens a session and returns its opaque id.
func (s *Sessions) Start(ctx context.Context, userID string) (string, time.Time, error) {
	sessionID, err := GenerateSessionID()
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now().UTC()
	expires := now.Add(s.ttl)
	session := Session{ID: HashToken(sessionID), UserID: userID, ExpiresAt: expires, CreatedAt: now}
	if err := s.sessions.Insert(ctx, session); err != nil {
		return "", time.Time{}, fmt.Errorf("start session: %w", err)
	}
	return sessionID, expires, nil
}

func (s *Sessions) Valid(ctx context.Context, userID, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	session, err := s.sessions.Get(ctx, HashToken(sessionID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return session.UserID == userID && !session.Revoked && s.now().Before(session.ExpiresAt), nil
}

func (s *Sessions) Revoke(ctx context.Context, userID, sessionID string) error {
	_, err := s.sessions.Upsert(ctx, HashToken(sessionID), recordstore.Patch{"revoked": true}, recordstore.Conditions{"userId": userID})
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	return err
}

// Rotate revokes the old session and opens a new one. Only one caller can
// rotate a given session.
func (s *Sessions) Rotate(ctx context.Context, userID, sessionID string) (string, time.Time, error) {
	ok, err := s.Valid(ctx, userID, sessionID)
	if err != nil {
		return "", time.Time{}, err
	}
	if !ok {
		return "", time.Time{}, ErrSessionInvalid
	}
	_, err = s.sessions.Upsert(ctx, HashToken(sessionID), recordstore.Patch{"revoked": true}, recordstore.Conditions{"userId": userID, "revoked": false})
	if err != nil {
		if errors.Is(err, errs.ErrConflict) || errors.Is(err, errs.ErrNotFound) {
			return "", time.Time{}, ErrSessionInvalid
		}
		return "", time.Time{}, err
	}
	return s.Start(ctx, userID)
}

// RevokeAll ends every open session of a user, e.g. after a password change.
func (s *Sessions) RevokeAll(ctx context.Context, userID string) error {
	open, err := s.sessions.Find(ctx, recordstore.Filter{Where: map[string]any{"userId": userID, "revoked": false}})
	if err != nil {
		return err
	}
	for _, session := range open {
		if _, err := s.sessions.Upsert(ctx, session.ID, recordstore.Patch{"revoked": true}, nil); err != nil {
			return err
		}
	}
	return nil
}

func GenerateSessionID() (string, error) {
	buff := make([]byte, 32)
	if _, err := rand.Read(buff); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buff), nil
}
