package report

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a report. "amended" is a derived view
// (final plus at least one addendum), never a stored value.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusInProgress  Status = "in_progress"
	StatusPreliminary Status = "preliminary"
	StatusFinal       Status = "final"
)

var validStatuses = map[Status]bool{
	StatusDraft: true, StatusInProgress: true,
	StatusPreliminary: true, StatusFinal: true,
}

// statusTransitions defines valid status transitions for a report.
var statusTransitions = map[Status][]Status{
	StatusDraft:       {StatusInProgress, StatusPreliminary, StatusFinal},
	StatusInProgress:  {StatusPreliminary, StatusFinal},
	StatusPreliminary: {StatusFinal},
	StatusFinal:       {},
}

// ValidateTransition checks whether a status change is allowed.
func ValidateTransition(from, to Status) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Severity grades a structured finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SignatureMeaning is the legal meaning attached to a signature.
type SignatureMeaning string

const (
	MeaningAuthored SignatureMeaning = "authored"
	MeaningReviewed SignatureMeaning = "reviewed"
	MeaningApproved SignatureMeaning = "approved"
	MeaningVerified SignatureMeaning = "verified"
)

var validMeanings = map[SignatureMeaning]bool{
	MeaningAuthored: true, MeaningReviewed: true,
	MeaningApproved: true, MeaningVerified: true,
}

// Default free-form section ids used when no template is bound.
const (
	SectionClinicalHistory = "clinical_history"
	SectionTechnique       = "technique"
	SectionFindings        = "findings"
	SectionImpression      = "impression"
	SectionRecommendations = "recommendations"
)

// DefaultSectionOrder is the untemplated section layout.
var DefaultSectionOrder = []string{
	SectionClinicalHistory,
	SectionTechnique,
	SectionFindings,
	SectionImpression,
	SectionRecommendations,
}

// Coordinates locates a finding or detection on a study image, normalized
// to the 0..1 range so they survive resolution changes.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w,omitempty"`
	H float64 `json:"h,omitempty"`
}

// Measurement is a single measured value attached to a finding or detection.
type Measurement struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Finding is a structured finding placed in the report.
type Finding struct {
	ID           string        `json:"id"`
	Location     string        `json:"location"`
	Description  string        `json:"description"`
	Severity     Severity      `json:"severity"`
	AIDetected   bool          `json:"ai_detected"`
	Coordinates  *Coordinates  `json:"coordinates,omitempty"`
	Measurements []Measurement `json:"measurements,omitempty"`
}

// AIDetection is a raw detection produced by the image-classification node.
// Shape matches the producer: label, score and a coarse confidence band.
type AIDetection struct {
	Label        string        `json:"label"`
	Score        float64       `json:"score"`
	Confidence   string        `json:"confidence"` // high | medium | low
	Coordinates  *Coordinates  `json:"coordinates,omitempty"`
	Measurements []Measurement `json:"measurements,omitempty"`
}

// Signature records who signed the report and with what meaning.
type Signature struct {
	SignerName string           `json:"signer_name"`
	Meaning    SignatureMeaning `json:"meaning"`
	SignedAt   time.Time        `json:"signed_at"`
}

// Addendum is an append-only correction added after signing.
type Addendum struct {
	Content string    `json:"content"`
	Reason  string    `json:"reason"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

// CriticalCommunication documents notification of a critical result. It
// records an external clinical act, so it is allowed at any status.
type CriticalCommunication struct {
	Recipient      string    `json:"recipient"`
	Method         string    `json:"method"`
	Notes          string    `json:"notes,omitempty"`
	CommunicatedBy string    `json:"communicated_by"`
	CommunicatedAt time.Time `json:"communicated_at"`
}

// VectorKind identifies a vector annotation operation on a key image.
type VectorKind string

const (
	VectorLine        VectorKind = "line"
	VectorCircle      VectorKind = "circle"
	VectorFreehand    VectorKind = "freehand"
	VectorMeasurement VectorKind = "measurement"
)

// Point is an image-space coordinate in base-image pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VectorOp is a single vector annotation drawn over a key image.
type VectorOp struct {
	Kind    VectorKind `json:"kind"`
	Points  []Point    `json:"points"`
	Radius  float64    `json:"radius,omitempty"`
	Label   string     `json:"label,omitempty"`
	ValueMM float64    `json:"value_mm,omitempty"`
	Color   string     `json:"color,omitempty"`
}

// KeyImage is a selected study image with optional annotation overlays.
type KeyImage struct {
	ID            string     `json:"id"`
	BaseImage     []byte     `json:"base_image"`
	OverlayRaster []byte     `json:"overlay_raster,omitempty"`
	OverlayVector []VectorOp `json:"overlay_vector,omitempty"`
	Caption       string     `json:"caption,omitempty"`
	Order         int        `json:"order"`
}

// Report is the root aggregate. It is treated as a value: components
// receive a copy and return a new copy or a commit request, never a
// shared mutable reference.
type Report struct {
	ID              uuid.UUID               `json:"id"`
	StudyRef        string                  `json:"study_ref"`
	PatientRef      string                  `json:"patient_ref"`
	PatientName     string                  `json:"patient_name,omitempty"`
	Status          Status                  `json:"status"`
	Version         int                     `json:"version"`
	TemplateID      *string                 `json:"template_id,omitempty"`
	TemplateVersion *int                    `json:"template_version,omitempty"`
	SectionOrder    []string                `json:"section_order"`
	Sections        map[string]string       `json:"sections"`
	Findings        []Finding               `json:"structured_findings"`
	AIDetections    []AIDetection           `json:"ai_detections,omitempty"`
	Signature       *Signature              `json:"signature,omitempty"`
	Addenda         []Addendum              `json:"addenda,omitempty"`
	CriticalComms   []CriticalCommunication `json:"critical_communications,omitempty"`
	KeyImages       []KeyImage              `json:"key_images,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// IsSigned reports whether the signed-content immutability rule applies.
func (r *Report) IsSigned() bool {
	return r.Status == StatusPreliminary || r.Status == StatusFinal
}

// IsAmended reports the derived "amended" view: final with addenda.
func (r *Report) IsAmended() bool {
	return r.Status == StatusFinal && len(r.Addenda) > 0
}

// HasCriticalFinding reports whether at least one finding is critical.
func (r *Report) HasCriticalFinding() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// ContentComplete reports whether the findings and impression sections
// carry text, the precondition for finalize and sign.
func (r *Report) ContentComplete() []string {
	var errs []string
	if r.Sections[SectionFindings] == "" {
		errs = append(errs, "findings required")
	}
	if r.Sections[SectionImpression] == "" {
		errs = append(errs, "impression required")
	}
	return errs
}

// Clone returns a deep copy of the report. Every mutation path operates
// on a clone so an accepted commit can never alias caller state.
func (r *Report) Clone() *Report {
	c := *r

	c.SectionOrder = append([]string(nil), r.SectionOrder...)
	c.Sections = make(map[string]string, len(r.Sections))
	for k, v := range r.Sections {
		c.Sections[k] = v
	}

	if r.TemplateID != nil {
		tid := *r.TemplateID
		c.TemplateID = &tid
	}
	if r.TemplateVersion != nil {
		tv := *r.TemplateVersion
		c.TemplateVersion = &tv
	}

	c.Findings = make([]Finding, len(r.Findings))
	for i, f := range r.Findings {
		c.Findings[i] = cloneFinding(f)
	}

	c.AIDetections = make([]AIDetection, len(r.AIDetections))
	for i, d := range r.AIDetections {
		c.AIDetections[i] = cloneDetection(d)
	}

	if r.Signature != nil {
		sig := *r.Signature
		c.Signature = &sig
	}

	c.Addenda = append([]Addendum(nil), r.Addenda...)
	c.CriticalComms = append([]CriticalCommunication(nil), r.CriticalComms...)

	c.KeyImages = make([]KeyImage, len(r.KeyImages))
	for i, ki := range r.KeyImages {
		c.KeyImages[i] = cloneKeyImage(ki)
	}

	return &c
}

func cloneFinding(f Finding) Finding {
	if f.Coordinates != nil {
		co := *f.Coordinates
		f.Coordinates = &co
	}
	f.Measurements = append([]Measurement(nil), f.Measurements...)
	return f
}

func cloneDetection(d AIDetection) AIDetection {
	if d.Coordinates != nil {
		co := *d.Coordinates
		d.Coordinates = &co
	}
	d.Measurements = append([]Measurement(nil), d.Measurements...)
	return d
}

func cloneKeyImage(ki KeyImage) KeyImage {
	ki.BaseImage = append([]byte(nil), ki.BaseImage...)
	ki.OverlayRaster = append([]byte(nil), ki.OverlayRaster...)
	ops := make([]VectorOp, len(ki.OverlayVector))
	for i, op := range ki.OverlayVector {
		op.Points = append([]Point(nil), op.Points...)
		ops[i] = op
	}
	ki.OverlayVector = ops
	return ki
}

// NewReport initializes a draft report at version 1 with the untemplated
// section layout.
func NewReport(studyRef, patientRef, patientName string) *Report {
	now := time.Now()
	sections := make(map[string]string, len(DefaultSectionOrder))
	for _, id := range DefaultSectionOrder {
		sections[id] = ""
	}
	return &Report{
		ID:           uuid.New(),
		StudyRef:     studyRef,
		PatientRef:   patientRef,
		PatientName:  patientName,
		Status:       StatusDraft,
		Version:      1,
		SectionOrder: append([]string(nil), DefaultSectionOrder...),
		Sections:     sections,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
