package store

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
)

// Lister performs the one-shot full fetch of a collection for one scope.
type Lister[T domain.Record] interface {
	List(ctx context.Context, ownerID string) ([]T, error)
}

// ListerFunc adapts a function to the Lister interface.
type ListerFunc[T domain.Record] func(ctx context.Context, ownerID string) ([]T, error)

func (f ListerFunc[T]) List(ctx context.Context, ownerID string) ([]T, error) {
	return f(ctx, ownerID)
}

// Loader seeds a store from a bulk fetch. Live events may already have been
// merged into the destination by the time the fetch lands; Seed's
// insert-if-absent rule keeps those live records authoritative.
type Loader[T domain.Record] struct {
	lister Lister[T]
	log    *log.Logger
}

// NewLoader creates a Loader backed by the given lister.
func NewLoader[T domain.Record](lister Lister[T], logger *log.Logger) Loader[T] {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return Loader[T]{lister: lister, log: logger}
}

// Load fetches the full collection for the store's scope and seeds dst.
// When ctx is cancelled before the fetch resolves, the result is discarded
// and the store left untouched.
func (l Loader[T]) Load(ctx context.Context, dst *Store[T]) error {
	records, err := l.lister.List(ctx, dst.Scope())
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		// The owning view is gone; its result must not land anywhere.
		return ctx.Err()
	}
	inserted := dst.Seed(records)
	l.log.WithFields(log.Fields{
		"scope":    dst.Scope(),
		"fetched":  len(records),
		"inserted": inserted,
	}).Debug("bulk load complete")
	return nil
}
