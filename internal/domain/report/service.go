package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service implements the report lifecycle: creation, patch-style edits,
// the finalize/sign/addendum state machine and critical-result
// documentation. All writes go through the Committer.
type Service struct {
	repo    Repository
	commits *Committer
	log     zerolog.Logger
}

// NewService creates a report lifecycle service.
func NewService(repo Repository, commits *Committer, log zerolog.Logger) *Service {
	return &Service{repo: repo, commits: commits, log: log}
}

// Committer exposes the commit choke point to collaborating domains
// (template binding, autosave).
func (s *Service) Committer() *Committer { return s.commits }

// CreateInput carries the fields accepted at report creation.
type CreateInput struct {
	StudyRef    string        `json:"study_ref"`
	PatientRef  string        `json:"patient_ref"`
	PatientName string        `json:"patient_name"`
	Detections  []AIDetection `json:"ai_detections,omitempty"`
}

// Create initializes a draft report at version 1. Attached AI detections
// are kept raw on the aggregate and synthesized into the findings and
// impression sections so an AI-assisted draft starts pre-populated.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Report, error) {
	if in.StudyRef == "" {
		return nil, fmt.Errorf("study_ref is required")
	}
	if in.PatientRef == "" {
		return nil, fmt.Errorf("patient_ref is required")
	}

	rep := NewReport(in.StudyRef, in.PatientRef, in.PatientName)
	if len(in.Detections) > 0 {
		rep.AIDetections = in.Detections
		rep.Sections[SectionFindings] = SynthesizeFindingsNarrative(in.Detections)
		rep.Sections[SectionImpression] = SynthesizeImpression(in.Detections)
		rep.Findings = FindingsFromDetections(in.Detections)
	}

	if err := s.repo.Create(ctx, rep); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("report_id", rep.ID.String()).
		Str("study_ref", rep.StudyRef).
		Bool("ai_assisted", len(in.Detections) > 0).
		Msg("report created")
	return rep, nil
}

// Get returns the report by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Report, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns reports filtered by study/patient/status.
func (s *Service) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Report, int, error) {
	return s.repo.List(ctx, params, limit, offset)
}

// Patch is a partial update of editable report content. Nil slices and
// maps leave the corresponding field untouched; non-nil values replace it.
type Patch struct {
	Sections   map[string]string `json:"sections,omitempty"`
	Findings   *[]Finding        `json:"structured_findings,omitempty"`
	KeyImages  *[]KeyImage       `json:"key_images,omitempty"`
	Detections *[]AIDetection    `json:"ai_detections,omitempty"`
}

func (p Patch) empty() bool {
	return len(p.Sections) == 0 && p.Findings == nil && p.KeyImages == nil && p.Detections == nil
}

// Update applies a patch at the given expected version. A draft moves to
// in_progress on its first accepted edit. Once signed, any attempt to
// touch sections, structured findings or key images fails with
// ErrSignedImmutable.
func (s *Service) Update(ctx context.Context, id uuid.UUID, expectedVersion int, patch Patch) (*Report, error) {
	return s.commits.Commit(ctx, id, expectedVersion, ApplyPatch(patch))
}

// ApplyPatch returns the mutation that applies a patch, shared by Update
// and the autosave scheduler.
func ApplyPatch(patch Patch) Mutation {
	return func(r *Report) error {
		if r.IsSigned() && !patch.empty() {
			return ErrSignedImmutable
		}
		for id, text := range patch.Sections {
			if _, ok := r.Sections[id]; !ok {
				return fmt.Errorf("unknown section %q", id)
			}
			r.Sections[id] = text
		}
		if patch.Findings != nil {
			r.Findings = *patch.Findings
		}
		if patch.KeyImages != nil {
			r.KeyImages = *patch.KeyImages
		}
		if patch.Detections != nil {
			r.AIDetections = *patch.Detections
		}
		if r.Status == StatusDraft {
			r.Status = StatusInProgress
		}
		return nil
	}
}

// SignatureInput carries signer identity and meaning for finalize/sign.
type SignatureInput struct {
	SignerName string           `json:"signer_name"`
	Meaning    SignatureMeaning `json:"meaning"`
}

func (in SignatureInput) validate() error {
	if in.SignerName == "" {
		return fmt.Errorf("signer_name is required")
	}
	if !validMeanings[in.Meaning] {
		return fmt.Errorf("invalid signature meaning: %s", in.Meaning)
	}
	return nil
}

// Finalize validates required content and transitions the report to
// preliminary, or straight to final when a signature is supplied in the
// same call (one commit, one version increment). On validation failure
// nothing is written.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, expectedVersion int, sig *SignatureInput) (*Report, error) {
	if sig != nil {
		if err := sig.validate(); err != nil {
			return nil, err
		}
	}
	rep, err := s.commits.Commit(ctx, id, expectedVersion, func(r *Report) error {
		if r.Status == StatusFinal {
			return ErrSignedImmutable
		}
		if errs := r.ContentComplete(); len(errs) > 0 {
			return &ValidationFailedError{Errors: errs}
		}
		if sig != nil {
			r.Status = StatusFinal
			r.Signature = &Signature{
				SignerName: sig.SignerName,
				Meaning:    sig.Meaning,
				SignedAt:   time.Now(),
			}
		} else {
			r.Status = StatusPreliminary
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("report_id", id.String()).
		Str("status", string(rep.Status)).
		Msg("report finalized")
	return rep, nil
}

// Sign writes the signature and transitions the report to final. An
// already-final report is rejected with ErrSignedImmutable; content
// requirements are re-validated so a report can be signed directly from
// draft or in_progress.
func (s *Service) Sign(ctx context.Context, id uuid.UUID, expectedVersion int, sig SignatureInput) (*Report, error) {
	if err := sig.validate(); err != nil {
		return nil, err
	}
	rep, err := s.commits.Commit(ctx, id, expectedVersion, func(r *Report) error {
		if r.Status == StatusFinal {
			return ErrSignedImmutable
		}
		if errs := r.ContentComplete(); len(errs) > 0 {
			return &ValidationFailedError{Errors: errs}
		}
		r.Status = StatusFinal
		r.Signature = &Signature{
			SignerName: sig.SignerName,
			Meaning:    sig.Meaning,
			SignedAt:   time.Now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("report_id", id.String()).
		Str("signer", sig.SignerName).
		Str("meaning", string(sig.Meaning)).
		Msg("report signed")
	return rep, nil
}

// AddAddendum appends a correction to a preliminary or final report. The
// signed content is never touched or re-validated. Appends are
// commutative, so a version race against another append is retried with
// the latest version instead of surfacing a conflict.
func (s *Service) AddAddendum(ctx context.Context, id uuid.UUID, expectedVersion int, content, reason, addedBy string) (*Report, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("addendum content is required")
	}
	rep, err := s.commits.CommitAppend(ctx, id, expectedVersion, func(r *Report) error {
		if !r.IsSigned() {
			return ErrAddendumOnNonFinal
		}
		r.Addenda = append(r.Addenda, Addendum{
			Content: content,
			Reason:  reason,
			AddedBy: addedBy,
			AddedAt: time.Now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("report_id", id.String()).
		Int("addenda", len(rep.Addenda)).
		Msg("addendum added")
	return rep, nil
}

// DocumentCriticalCommunication records that a critical result was
// communicated. Allowed at any status once a critical finding exists;
// purely additive, so it uses the same retrying append commit.
func (s *Service) DocumentCriticalCommunication(ctx context.Context, id uuid.UUID, expectedVersion int, recipient, method, notes, by string) (*Report, error) {
	if recipient == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	rep, err := s.commits.CommitAppend(ctx, id, expectedVersion, func(r *Report) error {
		if !r.HasCriticalFinding() {
			return ErrNoCriticalFinding
		}
		r.CriticalComms = append(r.CriticalComms, CriticalCommunication{
			Recipient:      recipient,
			Method:         method,
			Notes:          notes,
			CommunicatedBy: by,
			CommunicatedAt: time.Now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("report_id", id.String()).
		Str("recipient", recipient).
		Msg("critical communication documented")
	return rep, nil
}
