package repository

import (
	"context"
	"errors"

	"leadflow_backend/internal/visitors/domain"

	"github.com/google/uuid"
)

// DefaultMutateAttempts bounds the reload-and-retry loop on stale writes.
const DefaultMutateAttempts = 3

// MutateFunc changes a freshly loaded visitor. Returning an error aborts
// the mutation without saving.
type MutateFunc func(v *domain.Visitor) error

// Mutate loads the visitor, applies fn and saves it guarded by the version
// that was read. On ErrStaleWrite it reloads and applies fn again, up to
// attempts times. fn must decide from the reloaded state whether the change
// is still needed.
func Mutate(ctx context.Context, store Store, id uuid.UUID, attempts int, fn MutateFunc) (*domain.Visitor, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		current, err := store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		expected := current.Version
		if err := fn(current); err != nil {
			return nil, err
		}

		err = store.Save(ctx, current, expected)
		if err == nil {
			return current, nil
		}
		if !errors.Is(err, ErrStaleWrite) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// MutateAt applies fn only if the stored visitor is still at expected. It
// never retries: a caller pinning a version wants ErrStaleWrite when someone
// else wrote first.
func MutateAt(ctx context.Context, store Store, id uuid.UUID, expected int, fn MutateFunc) (*domain.Visitor, error) {
	current, err := store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expected {
		return nil, ErrStaleWrite
	}
	if err := fn(current); err != nil {
		return nil, err
	}
	if err := store.Save(ctx, current, expected); err != nil {
		return nil, err
	}
	return current, nil
}
