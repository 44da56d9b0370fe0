package export

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radreport/radreport/internal/domain/report"
)

// Service ties the snapshot builder to the report store and the share
// store.
type Service struct {
	reports report.Repository
	builder *Builder
	shares  *ShareStore
	baseURL string
	log     zerolog.Logger
}

// NewService creates an export service. shares may be nil when no Redis
// is configured; share-link operations then fail cleanly.
func NewService(reports report.Repository, builder *Builder, shares *ShareStore, baseURL string, log zerolog.Logger) *Service {
	return &Service{reports: reports, builder: builder, shares: shares, baseURL: baseURL, log: log}
}

// BuildSnapshot builds a point-in-time snapshot of the report.
func (s *Service) BuildSnapshot(ctx context.Context, id uuid.UUID, layout Layout, opts Options) (*Snapshot, error) {
	rep, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := s.builder.Build(ctx, rep, layout, opts)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("report_id", id.String()).
		Str("layout", string(layout)).
		Int("figures", len(snap.Figures)).
		Msg("snapshot built")
	return snap, nil
}

// CreateShareLink builds a PHI-safe snapshot of a final report and
// stores it under a random token with a fixed expiry. RedactPHI is
// always forced.
func (s *Service) CreateShareLink(ctx context.Context, id uuid.UUID) (*ShareLink, error) {
	if s.shares == nil {
		return nil, fmt.Errorf("share links are not configured")
	}
	rep, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep.Status != report.StatusFinal {
		return nil, ErrShareNotFinal
	}

	snap, err := s.builder.Build(ctx, rep, LayoutClinical, Options{
		Format:    FormatMarkup,
		RedactPHI: true,
	})
	if err != nil {
		return nil, err
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	expiresAt, err := s.shares.Save(ctx, token, snap)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("report_id", id.String()).
		Time("expires_at", expiresAt).
		Msg("share link created")
	return &ShareLink{
		URL:       s.baseURL + "/shared/" + token,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// ResolveShareLink returns the stored snapshot for a token.
func (s *Service) ResolveShareLink(ctx context.Context, token string) (*Snapshot, error) {
	if s.shares == nil {
		return nil, ErrShareNotFound
	}
	return s.shares.Get(ctx, token)
}
