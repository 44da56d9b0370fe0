package report

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

// mockRepo implements Repository in memory with the same
// compare-and-swap semantics as the Postgres store. The mutex makes
// CompareAndSwap atomic so concurrency tests exercise real races.
type mockRepo struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*Report

	// failCAS injects this many transient CompareAndSwap failures.
	failCAS int
}

func newMockRepo() *mockRepo {
	return &mockRepo{reports: make(map[uuid.UUID]*Report)}
}

func (m *mockRepo) Create(_ context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = r.Clone()
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *mockRepo) CompareAndSwap(_ context.Context, r *Report, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCAS > 0 {
		m.failCAS--
		return errors.New("connection reset")
	}
	stored, ok := m.reports[r.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrStaleVersion
	}
	m.reports[r.ID] = r.Clone()
	return nil
}

func (m *mockRepo) List(_ context.Context, params map[string]string, limit, offset int) ([]*Report, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Report
	for _, r := range m.reports {
		if v := params["study"]; v != "" && r.StudyRef != v {
			continue
		}
		if v := params["patient"]; v != "" && r.PatientRef != v {
			continue
		}
		if v := params["status"]; v != "" && string(r.Status) != v {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, len(out), nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	commits := NewCommitter(repo, zerolog.Nop())
	return NewService(repo, commits, zerolog.Nop()), repo
}

// seedReport creates a report with complete content, promoted to
// in_progress through an accepted edit.
func seedReport(t *testing.T, svc *Service) *Report {
	t.Helper()
	rep, err := svc.Create(context.Background(), CreateInput{StudyRef: "study-1", PatientRef: "patient-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rep, err = svc.Update(context.Background(), rep.ID, rep.Version, Patch{
		Sections: map[string]string{
			SectionFindings:   "Clear lungs. No effusion.",
			SectionImpression: "Normal study.",
		},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	return rep
}

// -- Create --

func TestCreate_RequiresRefs(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.Create(context.Background(), CreateInput{PatientRef: "p"}); err == nil {
		t.Error("expected error without study_ref")
	}
	if _, err := svc.Create(context.Background(), CreateInput{StudyRef: "s"}); err == nil {
		t.Error("expected error without patient_ref")
	}
}

func TestCreate_WithDetectionsPrePopulates(t *testing.T) {
	svc, _ := newTestService()

	rep, err := svc.Create(context.Background(), CreateInput{
		StudyRef:   "study-1",
		PatientRef: "patient-1",
		Detections: []AIDetection{
			{Label: "pleural effusion", Score: 0.91, Confidence: "high",
				Measurements: []Measurement{{Label: "depth", Value: 12.5, Unit: "mm"}}},
			{Label: "cardiomegaly", Score: 0.62, Confidence: "medium"},
			{Label: "normal anatomy", Score: 0.98, Confidence: "high"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if rep.Status != StatusDraft || rep.Version != 1 {
		t.Errorf("expected draft v1, got %s v%d", rep.Status, rep.Version)
	}
	findings := rep.Sections[SectionFindings]
	if !strings.Contains(findings, "pleural effusion") || !strings.Contains(findings, "depth 12.5 mm") {
		t.Errorf("findings narrative missing detections: %q", findings)
	}
	if strings.Contains(findings, "normal anatomy") {
		t.Errorf("normal anatomy should be skipped: %q", findings)
	}
	impression := rep.Sections[SectionImpression]
	if !strings.Contains(impression, "pleural effusion") || !strings.Contains(impression, "cardiomegaly") {
		t.Errorf("impression missing suggested labels: %q", impression)
	}

	if len(rep.Findings) != 2 {
		t.Fatalf("expected 2 structured findings, got %d", len(rep.Findings))
	}
	for _, f := range rep.Findings {
		if !f.AIDetected {
			t.Errorf("finding %q should be marked ai_detected", f.Description)
		}
	}
	if rep.Findings[0].Severity != SeverityHigh {
		t.Errorf("high confidence should map to high severity, got %s", rep.Findings[0].Severity)
	}
	if rep.Findings[1].Severity != SeverityModerate {
		t.Errorf("medium confidence should map to moderate severity, got %s", rep.Findings[1].Severity)
	}
}

// -- Update --

func TestUpdate_PromotesDraft(t *testing.T) {
	svc, _ := newTestService()
	rep, _ := svc.Create(context.Background(), CreateInput{StudyRef: "s", PatientRef: "p"})

	got, err := svc.Update(context.Background(), rep.ID, rep.Version, Patch{
		Sections: map[string]string{SectionFindings: "Clear lungs."},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Errorf("expected in_progress after first edit, got %s", got.Status)
	}
	if got.Version != rep.Version+1 {
		t.Errorf("expected version %d, got %d", rep.Version+1, got.Version)
	}
}

func TestUpdate_UnknownSectionRejected(t *testing.T) {
	svc, _ := newTestService()
	rep, _ := svc.Create(context.Background(), CreateInput{StudyRef: "s", PatientRef: "p"})

	_, err := svc.Update(context.Background(), rep.ID, rep.Version, Patch{
		Sections: map[string]string{"no_such_section": "text"},
	})
	if err == nil || !strings.Contains(err.Error(), "unknown section") {
		t.Errorf("expected unknown section error, got %v", err)
	}
}

func TestUpdate_SignedContentImmutable(t *testing.T) {
	svc, _ := newTestService()
	rep := seedReport(t, svc)

	rep, err := svc.Finalize(context.Background(), rep.ID, rep.Version, nil)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	_, err = svc.Update(context.Background(), rep.ID, rep.Version, Patch{
		Sections: map[string]string{SectionFindings: "changed after signing"},
	})
	if !errors.Is(err, ErrSignedImmutable) {
		t.Errorf("expected ErrSignedImmutable, got %v", err)
	}
}

// -- Finalize / Sign --

func TestFinalize_ValidationBlocksWithoutWrite(t *testing.T) {
	svc, repo := newTestService()
	rep, _ := svc.Create(context.Background(), CreateInput{StudyRef: "s", PatientRef: "p"})

	_, err := svc.Finalize(context.Background(), rep.ID, rep.Version, nil)
	var invalid *ValidationFailedError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationFailedError, got %v", err)
	}
	if len(invalid.Errors) != 2 {
		t.Errorf("expected findings and impression errors, got %v", invalid.Errors)
	}

	stored, _ := repo.GetByID(context.Background(), rep.ID)
	if stored.Version != rep.Version || stored.Status != StatusDraft {
		t.Errorf("failed finalize must not write: got v%d %s", stored.Version, stored.Status)
	}
}

func TestFinalize_ToPreliminary(t *testing.T) {
	svc, _ := newTestService()
	rep := seedReport(t, svc)

	got, err := svc.Finalize(context.Background(), rep.ID, rep.Version, nil)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got.Status != StatusPreliminary {
		t.Errorf("expected preliminary, got %s", got.Status)
	}
	if got.Signature != nil {
		t.Error("preliminary report should carry no signature")
	}
}

func TestFinalize_WithSignatureIsOneCommit(t *testing.T) {
	svc, _ := newTestService()
	rep := seedReport(t, svc)

	got, err := svc.Finalize(context.Background(), rep.ID, rep.Version, &SignatureInput{
		SignerName: "Dr. Chen",
		Meaning:    MeaningAuthored,
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got.Status != StatusFinal {
		t.Errorf("expected final, got %s", got.Status)
	}
	if got.Version != rep.Version+1 {
		t.Errorf("finalize+sign must be one version increment: %d -> %d", rep.Version, got.Version)
	}
	if got.Signature == nil || got.Signature.SignerName != "Dr. Chen" {
		t.Errorf("expected signature, got %+v", got.Signature)
	}
}

func TestSign_FromPreliminary(t *testing.T) {
	svc, _ := newTestService()
	rep := seedReport(t, svc)
	rep, _ = svc.Finalize(context.Background(), rep.ID, rep.Version, nil)

	got, err := svc.Sign(context.Background(), rep.ID, rep.Version, SignatureInput{
		SignerName: "Dr. Chen",
		Meaning:    MeaningApproved,
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got.Status != StatusFinal {
		t.Errorf("expected final, got %s", got.Status)
	}
}

func TestSign_AlreadyFinalRejected(t *testing.T) {
	svc, _ := newTestService()
	rep := seedReport(t, svc)
	rep, _ = svc.Sign(context.Background(), rep.ID, rep.Version, SignatureInput{
		SignerName: "Dr. Chen", Meaning: MeaningAuthored,
	})

	_, err := svc.Sign(context.Background(), rep.ID, rep.Version, SignatureInput{
		SignerName: "Dr. Patel", Meaning: MeaningVerified,
	})
	if !errors.Is(err, ErrSignedImmutable) {
		t.Errorf("expected ErrSignedImmutable, got %v", err)
	}
}

func TestSign_InvalidMeaning(t *testing.T) {
	svc, _ := newTestService()
	rep := seedReport(t, svc)

	_, err := svc.Sign(context.Background(), rep.ID, rep.Version, SignatureInput{
		SignerName: "Dr. Chen", Meaning: "notarized",
	})
	if err == nil || !strings.Contains(err.Error(), "meaning") {
		t.Errorf("expected invalid meaning error, got %v", err)
	}
}

// -- Addenda --

func TestAddAddendum_RequiresSignedReport(t *testing.T) {
	svc, _ := newTestService()
	rep := seedReport(t, svc)

	_, err := svc.AddAddendum(context.Background(), rep.ID, rep.Version, "late finding", "missed", "dr-chen")
	if !errors.Is(err, ErrAddendumOnNonFinal) {
		t.Errorf("expected ErrAddendumOnNonFinal, got %v", err)
	}
}

func TestAddAddendum_MakesAmended(t *testing.T) {
	svc, _ := newTestService()
	rep := seedReport(t, svc)
	rep, _ = svc.Sign(context.Background(), rep.ID, rep.Version, SignatureInput{
		SignerName: "Dr. Chen", Meaning: MeaningAuthored,
	})

	got, err := svc.AddAddendum(context.Background(), rep.ID, rep.Version, "Small nodule also noted.", "addendum", "dr-chen")
	if err != nil {
		t.Fatalf("addendum: %v", err)
	}
	if len(got.Addenda) != 1 {
		t.Fatalf("expected 1 addendum, got %d", len(got.Addenda))
	}
	if !got.IsAmended() {
		t.Error("final report with addendum should present as amended")
	}
	if got.Status != StatusFinal {
		t.Errorf("amended must stay derived, stored status got %s", got.Status)
	}
	if got.Sections[SectionFindings] != rep.Sections[SectionFindings] {
		t.Error("addendum must not touch signed content")
	}
}

func TestAddAddendum_EmptyContentRejected(t *testing.T) {
	svc, _ := newTestService()
	rep := seedReport(t, svc)

	if _, err := svc.AddAddendum(context.Background(), rep.ID, rep.Version, "   ", "r", "u"); err == nil {
		t.Error("expected error for blank addendum content")
	}
}

// -- Critical communications --

func TestDocumentCriticalCommunication_RequiresCriticalFinding(t *testing.T) {
	svc, _ := newTestService()
	rep := seedReport(t, svc)

	_, err := svc.DocumentCriticalCommunication(context.Background(), rep.ID, rep.Version,
		"Dr. Referring", "phone", "", "dr-chen")
	if !errors.Is(err, ErrNoCriticalFinding) {
		t.Errorf("expected ErrNoCriticalFinding, got %v", err)
	}
}

func TestDocumentCriticalCommunication_AllowedBeforeFinal(t *testing.T) {
	svc, _ := newTestService()
	rep := seedReport(t, svc)

	findings := []Finding{{ID: "f1", Description: "tension pneumothorax", Severity: SeverityCritical}}
	rep, err := svc.Update(context.Background(), rep.ID, rep.Version, Patch{Findings: &findings})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := svc.DocumentCriticalCommunication(context.Background(), rep.ID, rep.Version,
		"Dr. Referring", "phone", "read back confirmed", "dr-chen")
	if err != nil {
		t.Fatalf("critical communication: %v", err)
	}
	if len(got.CriticalComms) != 1 {
		t.Fatalf("expected 1 communication, got %d", len(got.CriticalComms))
	}
	if got.Status != StatusInProgress {
		t.Errorf("communication must not change status, got %s", got.Status)
	}
}
