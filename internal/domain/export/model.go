package export

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/radreport/radreport/internal/domain/report"
	"github.com/radreport/radreport/internal/platform/imaging"
)

// Layout selects which report content a snapshot emphasizes.
type Layout string

const (
	// LayoutClinical retains the full clinical detail.
	LayoutClinical Layout = "clinical"
	// LayoutResearch minimizes PHI and prioritizes images.
	LayoutResearch Layout = "research"
	// LayoutPatient simplifies technical jargon for patients.
	LayoutPatient Layout = "patient"
)

var validLayouts = map[Layout]bool{
	LayoutClinical: true, LayoutResearch: true, LayoutPatient: true,
}

// Format selects the assembled payload form.
type Format string

const (
	// FormatStructured is the structured-data form (the snapshot itself).
	FormatStructured Format = "structured"
	// FormatMarkup adds a renderable HTML document.
	FormatMarkup Format = "markup"
	// FormatImages emits the composed figures as an image sequence.
	FormatImages Format = "images"
)

// ImageType selects the figure encoding.
type ImageType string

const (
	ImageLossless ImageType = "raster-lossless"
	ImageLossy    ImageType = "raster-lossy"
)

// Options is the recognized export configuration.
type Options struct {
	Format              Format    `json:"format"`
	RedactPHI           bool      `json:"redact_phi"`
	DPI                 int       `json:"dpi"`
	ImageType           ImageType `json:"image_type"`
	Quality             int       `json:"quality"`
	ColorSafePalette    bool      `json:"color_safe_palette"`
	ShowScaleBar        bool      `json:"show_scale_bar"`
	ShowOrientationTags bool      `json:"show_orientation_tags"`
	PixelSpacingMM      float64   `json:"pixel_spacing_mm"`
}

func (o Options) imaging() imaging.Options {
	enc := imaging.EncodingPNG
	if o.ImageType == ImageLossy {
		enc = imaging.EncodingJPEG
	}
	return imaging.Options{
		DPI:             o.DPI,
		Encoding:        enc,
		Quality:         o.Quality,
		ColorSafe:       o.ColorSafePalette,
		ScaleBar:        o.ShowScaleBar,
		OrientationTags: o.ShowOrientationTags,
		PixelSpacingMM:  o.PixelSpacingMM,
	}
}

// ErrExportTimeout is returned when a build exceeds its time budget.
// Nothing partial is returned; a retry with a reduced option set (lower
// DPI, fewer images) is safe.
var ErrExportTimeout = errors.New("export exceeded its time budget")

// ErrShareNotFinal rejects share links for reports not yet final.
var ErrShareNotFinal = errors.New("share links require a final report")

// ErrShareNotFound is returned for unknown or expired share tokens.
var ErrShareNotFound = errors.New("share link not found or expired")

// MeasurementRow is one line of the measurements table extracted from
// the vector annotations across all key images.
type MeasurementRow struct {
	Callout int     `json:"callout"`
	ImageID string  `json:"image_id"`
	Label   string  `json:"label"`
	ValueMM float64 `json:"value_mm"`
}

// LegendEntry correlates a callout number with an AI detection or an
// annotation.
type LegendEntry struct {
	Callout int    `json:"callout"`
	ImageID string `json:"image_id,omitempty"`
	Label   string `json:"label"`
	Source  string `json:"source"` // ai | annotation
}

// Figure is a composed, figure-ready image.
type Figure struct {
	ID      string `json:"id"`
	Caption string `json:"caption,omitempty"`
	MIME    string `json:"mime"`
	Data    []byte `json:"data"`
	// Degraded marks a figure whose annotation composition failed;
	// the original unannotated image was substituted.
	Degraded bool `json:"degraded,omitempty"`
}

// Snapshot is an immutable, disconnected copy of report state at build
// time. Later mutation of the live report never alters a built snapshot,
// and snapshots may be read concurrently without synchronization.
type Snapshot struct {
	ReportID      uuid.UUID                      `json:"report_id"`
	StudyRef      string                         `json:"study_ref"`
	PatientRef    string                         `json:"patient_ref,omitempty"`
	PatientName   string                         `json:"patient_name,omitempty"`
	CaseCode      string                         `json:"case_code,omitempty"`
	Status        report.Status                  `json:"status"`
	Amended       bool                           `json:"amended"`
	Version       int                            `json:"version"`
	Layout        Layout                         `json:"layout"`
	BuiltAt       time.Time                      `json:"built_at"`
	SectionOrder  []string                       `json:"section_order"`
	Sections      map[string]string              `json:"sections"`
	Findings      []report.Finding               `json:"structured_findings,omitempty"`
	Signature     *report.Signature              `json:"signature,omitempty"`
	Addenda       []report.Addendum              `json:"addenda,omitempty"`
	CriticalComms []report.CriticalCommunication `json:"critical_communications,omitempty"`
	Measurements  []MeasurementRow               `json:"measurements,omitempty"`
	Legend        []LegendEntry                  `json:"legend,omitempty"`
	Figures       []Figure                       `json:"figures,omitempty"`
	// ImagesFirst asks renderers to place figures before text, set by
	// the research layout.
	ImagesFirst bool `json:"images_first,omitempty"`
	// Markup is the renderable HTML form, present for FormatMarkup.
	Markup string `json:"markup,omitempty"`
}

// ShareLink is a PHI-safe, expiring pointer to a stored snapshot.
type ShareLink struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
