package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no template exists for the given id.
var ErrNotFound = errors.New("template not found")

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a Postgres-backed template repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*Template, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM report_template WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select template: %w", err)
	}
	var t Template
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("unmarshal template: %w", err)
	}
	return &t, nil
}

func (r *repoPG) List(ctx context.Context, modality string, limit, offset int) ([]*Template, int, error) {
	where := "TRUE"
	args := []interface{}{}
	if modality != "" {
		where = "modality = $1"
		args = append(args, modality)
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM report_template WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT doc FROM report_template WHERE %s
		ORDER BY name LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, err
		}
		var t Template
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, 0, fmt.Errorf("unmarshal template: %w", err)
		}
		out = append(out, &t)
	}
	return out, total, rows.Err()
}

func (r *repoPG) Upsert(ctx context.Context, t *Template) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO report_template (id, name, modality, version, doc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = $2, modality = $3, version = $4, doc = $5`,
		t.ID, t.Name, t.Modality, t.Version, doc)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

// Seed inserts the builtin templates, keeping any operator-modified rows.
func Seed(ctx context.Context, repo Repository) error {
	for _, t := range BuiltinTemplates {
		if _, err := repo.GetByID(ctx, t.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := repo.Upsert(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
