package report

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists report aggregates. CompareAndSwap is the single
// write path for existing reports: it must atomically replace the stored
// aggregate only when the stored version equals expectedVersion, and
// return ErrStaleVersion otherwise.
type Repository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	CompareAndSwap(ctx context.Context, r *Report, expectedVersion int) error
	List(ctx context.Context, params map[string]string, limit, offset int) ([]*Report, int, error)
}
