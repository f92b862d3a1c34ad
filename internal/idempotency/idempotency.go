// Package idempotency remembers the outcome of client-tokened requests for a
// bounded window so a retried request is applied at most once.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/example/ec-ordering/internal/apperr"
)

var (
	// ErrFingerprintMismatch is returned when a token is reused for a
	// different request.
	ErrFingerprintMismatch = apperr.New(apperr.ErrConflict, "idempotency key reused with a different payload")
	// ErrInFlight is returned while the first request with a token is still
	// executing. Retrying later returns its result.
	ErrInFlight = apperr.New(apperr.ErrTransient, "request with this idempotency key is in progress")
)

// Record is a stored request outcome.
type Record struct {
	Fingerprint string          `json:"fingerprint"`
	Completed   bool            `json:"completed"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Store tracks idempotency keys.
//
// Begin claims key for a request with the given fingerprint. A nil record
// means the caller now owns the key and must call Complete or Release. A
// non-nil record is the completed result of an earlier request with the same
// fingerprint.
type Store interface {
	Begin(ctx context.Context, key, fingerprint string) (*Record, error)
	Complete(ctx context.Context, key, fingerprint string, result json.RawMessage) error
	Release(ctx context.Context, key string) error
}

// Fingerprint hashes the parts that identify a request payload.
func Fingerprint(parts ...any) (string, error) {
	data, err := json.Marshal(parts)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func check(rec *Record, fingerprint string) (*Record, error) {
	if rec.Fingerprint != fingerprint {
		return nil, ErrFingerprintMismatch
	}
	if !rec.Completed {
		return nil, ErrInFlight
	}
	return rec, nil
}
