package template

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radreport/radreport/internal/domain/report"
)

type memReportRepo struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*report.Report
}

func newMemReportRepo() *memReportRepo {
	return &memReportRepo{reports: make(map[uuid.UUID]*report.Report)}
}

func (m *memReportRepo) Create(_ context.Context, r *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = r.Clone()
	return nil
}

func (m *memReportRepo) GetByID(_ context.Context, id uuid.UUID) (*report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, report.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *memReportRepo) CompareAndSwap(_ context.Context, r *report.Report, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.reports[r.ID]
	if !ok {
		return report.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return report.ErrStaleVersion
	}
	m.reports[r.ID] = r.Clone()
	return nil
}

func (m *memReportRepo) List(_ context.Context, _ map[string]string, _, _ int) ([]*report.Report, int, error) {
	return nil, 0, nil
}

type memTemplateRepo struct {
	mu        sync.Mutex
	templates map[string]*Template
}

func newMemTemplateRepo() *memTemplateRepo {
	return &memTemplateRepo{templates: make(map[string]*Template)}
}

func (m *memTemplateRepo) GetByID(_ context.Context, id string) (*Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *memTemplateRepo) List(_ context.Context, modality string, limit, offset int) ([]*Template, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Template
	for _, t := range m.templates {
		if modality == "" || t.Modality == modality {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

func (m *memTemplateRepo) Upsert(_ context.Context, t *Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
	return nil
}

func newTestBindService(t *testing.T) (*Service, *memReportRepo) {
	t.Helper()
	reports := newMemReportRepo()
	templates := newMemTemplateRepo()
	if err := Seed(context.Background(), templates); err != nil {
		t.Fatalf("seed templates: %v", err)
	}
	commits := report.NewCommitter(reports, zerolog.Nop())
	return NewService(templates, commits, zerolog.Nop()), reports
}

func TestBindToReport_PromotesDraftInOneCommit(t *testing.T) {
	svc, reports := newTestBindService(t)
	rep := report.NewReport("study-1", "patient-1", "")
	reports.Create(context.Background(), rep)

	bound, err := svc.BindToReport(context.Background(), rep.ID, 1, "ct-chest")
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if bound.Version != 2 {
		t.Errorf("expected one version increment, got %d", bound.Version)
	}
	if bound.Status != report.StatusInProgress {
		t.Errorf("expected in_progress after bind, got %s", bound.Status)
	}
	if bound.TemplateID == nil || *bound.TemplateID != "ct-chest" {
		t.Error("expected template id recorded on report")
	}

	stored, _ := reports.GetByID(context.Background(), rep.ID)
	if stored.Version != 2 || stored.Sections["contrast"] != "None." {
		t.Errorf("stored report missing bound layout: v%d %q", stored.Version, stored.Sections["contrast"])
	}
}

func TestBindToReport_SignedRejected(t *testing.T) {
	svc, reports := newTestBindService(t)
	rep := report.NewReport("study-1", "patient-1", "")
	rep.Status = report.StatusFinal
	rep.Signature = &report.Signature{SignerName: "Dr. Chen", Meaning: report.MeaningAuthored}
	reports.Create(context.Background(), rep)

	_, err := svc.BindToReport(context.Background(), rep.ID, 1, "ct-chest")
	if err == nil {
		t.Fatal("expected signed report to reject rebind")
	}

	stored, _ := reports.GetByID(context.Background(), rep.ID)
	if stored.Version != 1 || stored.TemplateID != nil {
		t.Error("rejected bind must not write")
	}
}

func TestBindToReport_UnknownTemplate(t *testing.T) {
	svc, reports := newTestBindService(t)
	rep := report.NewReport("study-1", "patient-1", "")
	reports.Create(context.Background(), rep)

	if _, err := svc.BindToReport(context.Background(), rep.ID, 1, "no-such-template"); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestBindToReport_StaleVersionConflict(t *testing.T) {
	svc, reports := newTestBindService(t)
	rep := report.NewReport("study-1", "patient-1", "")
	reports.Create(context.Background(), rep)
	if _, err := svc.BindToReport(context.Background(), rep.ID, 1, "ct-chest"); err != nil {
		t.Fatalf("first bind: %v", err)
	}

	_, err := svc.BindToReport(context.Background(), rep.ID, 1, "mri-brain")
	var conflict *report.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected VersionConflictError, got %v", err)
	}
	if conflict.ServerVersion != 2 {
		t.Errorf("expected server_version 2, got %d", conflict.ServerVersion)
	}
}

func TestSeed_KeepsOperatorTemplates(t *testing.T) {
	templates := newMemTemplateRepo()
	custom := &Template{ID: "chest-xray-2v", Version: 7, Name: "Site Chest", Modality: "CR"}
	templates.Upsert(context.Background(), custom)

	if err := Seed(context.Background(), templates); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, _ := templates.GetByID(context.Background(), "chest-xray-2v")
	if got.Version != 7 {
		t.Errorf("seed overwrote operator template: version %d", got.Version)
	}
	if _, err := templates.GetByID(context.Background(), "mri-brain"); err != nil {
		t.Error("expected missing builtin to be seeded")
	}
}
