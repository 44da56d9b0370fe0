package template

import "context"

// Repository stores report templates.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Template, error)
	List(ctx context.Context, modality string, limit, offset int) ([]*Template, int, error)
	Upsert(ctx context.Context, t *Template) error
}
