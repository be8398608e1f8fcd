package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"evaltrack/internal/platform/recordstore"
	"evaltrack/internal/transport/http/api"
)

var ErrIdempotencyConflict = errors.New("idempotency key conflicts with existing request")

type idempotencyRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Endpoint    string    `json:"endpoint"`
	RequestHash string    `json:"requestHash"`
	Status      int       `json:"status"`
	Response    string    `json:"response"`
	CreatedAt   time.Time `json:"createdAt"`
}

type IdempotencyStore struct {
	records recordstore.Collection[idempotencyRecord]
}

func NewIdempotencyStore(store recordstore.Store) *IdempotencyStore {
	return &IdempotencyStore{records: recordstore.NewCollection[idempotencyRecord](store, recordstore.IdempotencyKeys)}
}

func RequestHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func idempotencyID(userID, endpoint, key string) string {
	return RequestHash([]byte(userID + "\x00" + endpoint + "\x00" + key))
}

// Check returns the stored response for key, or ok=false when the key is new.
func (s *IdempotencyStore) Check(ctx context.Context, userID, endpoint, key, requestHash string) (int, []byte, bool, error) {
	if s == nil {
		return 0, nil, false, nil
	}
	rec, err := s.records.Get(ctx, idempotencyID(userID, endpoint, key))
	if errors.Is(err, recordstore.ErrNotFound) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	if rec.RequestHash != requestHash {
		return 0, nil, false, ErrIdempotencyConflict
	}
	return rec.Status, []byte(rec.Response), true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, userID, endpoint, key, requestHash string, status int, response []byte) error {
	if s == nil {
		return nil
	}
	err := s.records.Insert(ctx, idempotencyRecord{
		ID:          idempotencyID(userID, endpoint, key),
		UserID:      userID,
		Endpoint:    endpoint,
		RequestHash: requestHash,
		Status:      status,
		Response:    string(response),
		CreatedAt:   time.Now().UTC(),
	})
	if errors.Is(err, recordstore.ErrDuplicate) {
		return ErrIdempotencyConflict
	}
	return err
}

type bodyRecorder struct {
	statusRecorder
	body bytes.Buffer
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// authenticated POST requests. Reusing a key with a different body is a 409.
func Idempotency(store *IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			user, ok := GetUser(r.Context())
			if store == nil || key == "" || !ok || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			requestID := GetRequestID(r.Context())
			payload, err := io.ReadAll(r.Body)
			if err != nil {
				api.Fail(w, http.StatusBadRequest, "invalid_body", "could not read request body", requestID)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(payload))
			hash := RequestHash(payload)
			endpoint := r.URL.Path

			status, stored, found, err := store.Check(r.Context(), user.UserID, endpoint, key, hash)
			if errors.Is(err, ErrIdempotencyConflict) {
				api.Fail(w, http.StatusConflict, "idempotency_conflict", err.Error(), requestID)
				return
			}
			if err != nil {
				slog.Warn("idempotency lookup failed", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if found {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(status)
				_, _ = w.Write(stored)
				return
			}

			rec := &bodyRecorder{statusRecorder: statusRecorder{ResponseWriter: w, status: http.StatusOK}}
			next.ServeHTTP(rec, r)
			if rec.status >= http.StatusInternalServerError {
				return
			}
			if err := store.Save(r.Context(), user.UserID, endpoint, key, hash, rec.status, rec.body.Bytes()); err != nil {
				slog.Warn("idempotency save failed", "err", err)
			}
		})
	}
}
