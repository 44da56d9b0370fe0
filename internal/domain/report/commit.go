package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mutation applies a change to a cloned report. It must be pure: no
// side effects outside the report it receives.
type Mutation func(*Report) error

// Committer is the single choke point for state-changing operations.
// Every save, finalize, sign, addendum and critical-communication append
// commits through here, so version increments and conflict detection
// have exactly one implementation.
type Committer struct {
	repo Repository
	log  zerolog.Logger
}

// NewCommitter creates a Committer over the given repository.
func NewCommitter(repo Repository, log zerolog.Logger) *Committer {
	return &Committer{repo: repo, log: log}
}

// Commit loads the report, applies the mutation to a clone, and performs
// an atomic compare-and-swap against expectedVersion. On success the new
// report (version = expectedVersion + 1) is returned. If another writer
// won the race, a VersionConflictError carrying the server version and a
// field-level diff is returned and nothing was written.
func (c *Committer) Commit(ctx context.Context, id uuid.UUID, expectedVersion int, mutate Mutation) (*Report, error) {
	current, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now()

	err = c.repo.CompareAndSwap(ctx, next, expectedVersion)
	if errors.Is(err, ErrStaleVersion) {
		return nil, c.conflict(ctx, id, next)
	}
	if err != nil {
		return nil, fmt.Errorf("commit report %s: %w", id, err)
	}

	c.log.Debug().
		Str("report_id", id.String()).
		Int("version", next.Version).
		Str("status", string(next.Status)).
		Msg("report committed")
	return next, nil
}

// conflict builds the structured conflict error by re-reading the server
// state and diffing it against what the caller intended to write.
func (c *Committer) conflict(ctx context.Context, id uuid.UUID, intended *Report) error {
	server, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load server state after conflict: %w", err)
	}
	conflict := &VersionConflictError{
		ServerVersion:     server.Version,
		ConflictingFields: diffReports(server, intended),
	}
	c.log.Warn().
		Str("report_id", id.String()).
		Int("server_version", server.Version).
		Strs("fields", conflict.ConflictingFields).
		Msg("version conflict")
	return conflict
}

// CommitAppend commits a mutation that only appends to the addenda or
// critical-communications lists. Appends are commutative, so a lost
// version race is resolved by retrying against the latest version rather
// than surfacing a conflict.
func (c *Committer) CommitAppend(ctx context.Context, id uuid.UUID, expectedVersion int, mutate Mutation) (*Report, error) {
	const maxAttempts = 3

	version := expectedVersion
	for attempt := 0; ; attempt++ {
		rep, err := c.Commit(ctx, id, version, mutate)
		if err == nil {
			return rep, nil
		}
		var conflict *VersionConflictError
		if !errors.As(err, &conflict) || attempt == maxAttempts-1 {
			return nil, err
		}
		version = conflict.ServerVersion
		c.log.Debug().
			Str("report_id", id.String()).
			Int("retry_version", version).
			Msg("retrying append after version race")
	}
}
