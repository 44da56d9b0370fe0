package template

// SectionKind classifies how a template section participates in AI
// re-projection after a rebind.
type SectionKind string

const (
	KindNarrative  SectionKind = "narrative"
	KindFindings   SectionKind = "findings"
	KindImpression SectionKind = "impression"
)

// SectionDef defines a single section in a template layout.
type SectionDef struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	DefaultText string      `json:"default_text"`
	Kind        SectionKind `json:"kind"`
}

// Template is a section layout for a report. Default section values are
// always deep-copied into reports, never shared; two reports bound to
// the same template must not alias mutable state.
type Template struct {
	ID       string       `json:"id"`
	Version  int          `json:"version"`
	Name     string       `json:"name"`
	Modality string       `json:"modality"`
	Sections []SectionDef `json:"sections"`
}

// FindingsSectionID returns the id of the findings-like section, or "".
func (t *Template) FindingsSectionID() string {
	return t.sectionOfKind(KindFindings)
}

// ImpressionSectionID returns the id of the impression-like section, or "".
func (t *Template) ImpressionSectionID() string {
	return t.sectionOfKind(KindImpression)
}

func (t *Template) sectionOfKind(kind SectionKind) string {
	for _, s := range t.Sections {
		if s.Kind == kind {
			return s.ID
		}
	}
	return ""
}

// BuiltinTemplates seeds the template store with standard layouts.
var BuiltinTemplates = []*Template{
	{
		ID: "chest-xray-2v", Version: 1, Name: "Chest X-Ray (2 views)", Modality: "CR",
		Sections: []SectionDef{
			{ID: "indication", Title: "Indication", Kind: KindNarrative},
			{ID: "comparison", Title: "Comparison", DefaultText: "None.", Kind: KindNarrative},
			{ID: "technique", Title: "Technique", DefaultText: "PA and lateral views of the chest.", Kind: KindNarrative},
			{ID: "findings", Title: "Findings", Kind: KindFindings},
			{ID: "impression", Title: "Impression", Kind: KindImpression},
		},
	},
	{
		ID: "ct-chest", Version: 1, Name: "CT Chest", Modality: "CT",
		Sections: []SectionDef{
			{ID: "clinical_history", Title: "Clinical History", Kind: KindNarrative},
			{ID: "technique", Title: "Technique", DefaultText: "Axial CT images of the chest with multiplanar reformats.", Kind: KindNarrative},
			{ID: "contrast", Title: "Contrast", DefaultText: "None.", Kind: KindNarrative},
			{ID: "findings", Title: "Findings", Kind: KindFindings},
			{ID: "impression", Title: "Impression", Kind: KindImpression},
			{ID: "recommendations", Title: "Recommendations", Kind: KindNarrative},
		},
	},
	{
		ID: "mri-brain", Version: 1, Name: "MRI Brain", Modality: "MR",
		Sections: []SectionDef{
			{ID: "clinical_history", Title: "Clinical History", Kind: KindNarrative},
			{ID: "technique", Title: "Technique", DefaultText: "Multiplanar multisequence MRI of the brain.", Kind: KindNarrative},
			{ID: "findings", Title: "Findings", Kind: KindFindings},
			{ID: "impression", Title: "Impression", Kind: KindImpression},
		},
	},
}
