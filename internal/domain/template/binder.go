package template

import (
	"strings"

	"github.com/radreport/radreport/internal/domain/report"
)

// Bind replaces the report's section layout with a fresh deep copy of
// the template's defaults. A template switch is a reset, not a merge:
// structured findings and the findings/impression text are cleared, then
// any attached AI detections are re-projected into the new layout.
// Detections with no corresponding section stay raw on the report.
//
// Bind mutates the report it receives (callers pass the clone inside a
// commit mutation) and does not itself commit.
func Bind(r *report.Report, t *Template) {
	tid := t.ID
	tver := t.Version
	r.TemplateID = &tid
	r.TemplateVersion = &tver

	// Fresh deep copy of defaults, never a shared reference.
	r.SectionOrder = make([]string, 0, len(t.Sections))
	r.Sections = make(map[string]string, len(t.Sections))
	for _, s := range t.Sections {
		r.SectionOrder = append(r.SectionOrder, s.ID)
		r.Sections[s.ID] = strings.Clone(s.DefaultText)
	}

	// Template-shaped content cannot survive a layout change.
	r.Findings = nil

	if len(r.AIDetections) == 0 {
		return
	}
	if id := t.FindingsSectionID(); id != "" {
		r.Sections[id] = report.SynthesizeFindingsNarrative(r.AIDetections)
		r.Findings = report.FindingsFromDetections(r.AIDetections)
	}
	if id := t.ImpressionSectionID(); id != "" {
		r.Sections[id] = report.SynthesizeImpression(r.AIDetections)
	}
}
