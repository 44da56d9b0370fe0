package template

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radreport/radreport/internal/domain/report"
)

// Service manages templates and binds them to reports through the
// report domain's commit choke point.
type Service struct {
	repo    Repository
	commits *report.Committer
	log     zerolog.Logger
}

// NewService creates a template service.
func NewService(repo Repository, commits *report.Committer, log zerolog.Logger) *Service {
	return &Service{repo: repo, commits: commits, log: log}
}

// Get returns the template by id.
func (s *Service) Get(ctx context.Context, id string) (*Template, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns templates filtered by modality.
func (s *Service) List(ctx context.Context, modality string, limit, offset int) ([]*Template, int, error) {
	return s.repo.List(ctx, modality, limit, offset)
}

// BindToReport rebinds a report to the given template in a single
// commit. Signed content is immutable, so a bind on a preliminary or
// final report is rejected.
func (s *Service) BindToReport(ctx context.Context, reportID uuid.UUID, expectedVersion int, templateID string) (*report.Report, error) {
	t, err := s.repo.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	rep, err := s.commits.Commit(ctx, reportID, expectedVersion, func(r *report.Report) error {
		if r.IsSigned() {
			return report.ErrSignedImmutable
		}
		Bind(r, t)
		if r.Status == report.StatusDraft {
			r.Status = report.StatusInProgress
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("report_id", reportID.String()).
		Str("template_id", templateID).
		Msg("template bound")
	return rep, nil
}
