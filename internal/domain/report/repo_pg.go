package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// repoPG stores the aggregate as a JSONB document alongside the scalar
// columns queries filter on. The version column, not the document copy
// of it, is the compare-and-swap authority.
type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates a Postgres-backed report repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(_ context.Context) queryable { return r.pool }

func (r *repoPG) Create(ctx context.Context, rep *Report) error {
	doc, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO report (id, study_ref, patient_ref, status, version, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rep.ID, rep.StudyRef, rep.PatientRef, rep.Status, rep.Version, doc,
		rep.CreatedAt, rep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	var doc []byte
	var version int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT doc, version FROM report WHERE id = $1`, id).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select report: %w", err)
	}
	var rep Report
	if err := json.Unmarshal(doc, &rep); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	// The column is authoritative over the stored document.
	rep.Version = version
	return &rep, nil
}

// CompareAndSwap replaces the stored aggregate only when the stored
// version equals expectedVersion. The WHERE clause is the atomic check;
// a zero-row result means another writer won the race.
func (r *repoPG) CompareAndSwap(ctx context.Context, rep *Report, expectedVersion int) error {
	doc, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE report
		SET status = $3, version = $4, doc = $5, updated_at = $6
		WHERE id = $1 AND version = $2`,
		rep.ID, expectedVersion, rep.Status, rep.Version, doc, rep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing row.
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM report WHERE id = $1)`, rep.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check report exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStaleVersion
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Report, int, error) {
	where := "TRUE"
	args := []interface{}{}
	n := 0
	add := func(clause, value string) {
		n++
		where += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, value)
	}
	if v := params["study"]; v != "" {
		add("study_ref", v)
	}
	if v := params["patient"]; v != "" {
		add("patient_ref", v)
	}
	if v := params["status"]; v != "" {
		add("status", v)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM report WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	query := fmt.Sprintf(`SELECT doc, version FROM report WHERE %s
		ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []*Report
	for rows.Next() {
		var doc []byte
		var version int
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, 0, err
		}
		var rep Report
		if err := json.Unmarshal(doc, &rep); err != nil {
			return nil, 0, fmt.Errorf("unmarshal report: %w", err)
		}
		rep.Version = version
		out = append(out, &rep)
	}
	return out, total, rows.Err()
}
