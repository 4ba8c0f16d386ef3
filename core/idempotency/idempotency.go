// Package idempotency makes retried requests replay the outcome of the first one instead of running again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/tutorly/core"
)

var (
	// errors
	ErrNotFound  = errors.New("idempotency key not found")
	ErrKeyReused = errors.New("idempotency key already used for a different request")

	maxKeyLen = 255
)

// Record is a key reserved by an owner, with the response of the operation it guarded.
type Record struct {
	OwnerID     string
	Key         string
	Operation   string
	RequestHash string
	Response    []byte
	CreatedAt   time.Time
}

// Scope identifies one guarded call.
type Scope struct {
	OwnerID   string
	Key       string
	Operation string
	Request   interface{}
}

type Repository interface {
	// Reserve inserts rec unless (OwnerID, Key) exists, in which case the stored record is returned with created=false.
	Reserve(ctx context.Context, rec Record, exec ...core.DBExecutor) (stored Record, created bool, err error)
	SaveResponse(ctx context.Context, ownerID, key string, response []byte, exec ...core.DBExecutor) error
}

type Guard struct {
	repo Repository
}

func NewGuard(repo Repository) *Guard {
	return &Guard{repo: repo}
}

// Hash fingerprints an operation and its request payload.
func Hash(operation string, request interface{}) (string, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return "", errors.Wrap(err, "marshalling request")
	}
	sum := sha256.New()
	sum.Write([]byte(operation))
	sum.Write([]byte{0})
	sum.Write(payload)
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// Run executes fn once per (owner, key) inside the caller's transaction.
// A replayed key unmarshals the stored response into out and reports true without calling fn.
// An empty key disables the guard.
func (g *Guard) Run(ctx context.Context, exec core.DBExecutor, scope Scope, out interface{}, fn func() (interface{}, error)) (bool, error) {
	if scope.Key == "" {
		_, err := fn()
		return false, err
	}
	if len(scope.Key) > maxKeyLen {
		return false, core.NewValidationError(nil, core.FieldError{Field: "idempotency_key", Error: "idempotency key is too long"})
	}

	hash, err := Hash(scope.Operation, scope.Request)
	if err != nil {
		return false, err
	}
	stored, created, err := g.repo.Reserve(ctx, Record{
		OwnerID:     scope.OwnerID,
		Key:         scope.Key,
		Operation:   scope.Operation,
		RequestHash: hash,
		CreatedAt:   time.Now().UTC(),
	}, exec)
	if err != nil {
		return false, errors.Wrap(err, "reserving idempotency key")
	}

	if !created {
		if stored.Operation != scope.Operation || stored.RequestHash != hash {
			return false, ErrKeyReused
		}
		if err := json.Unmarshal(stored.Response, out); err != nil {
			return false, errors.Wrap(err, "unmarshalling stored response")
		}
		return true, nil
	}

	res, err := fn()
	if err != nil {
		return false, err
	}
	resp, err := json.Marshal(res)
	if err != nil {
		return false, errors.Wrap(err, "marshalling response")
	}
	if err := g.repo.SaveResponse(ctx, scope.OwnerID, scope.Key, resp, exec); err != nil {
		return false, errors.Wrap(err, "saving response")
	}
	return false, nil
}
