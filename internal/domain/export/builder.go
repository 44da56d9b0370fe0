package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/radreport/radreport/internal/domain/report"
	"github.com/radreport/radreport/internal/platform/imaging"
)

// DefaultBuildTimeout is the hard wall-clock bound on a snapshot build.
const DefaultBuildTimeout = 30 * time.Second

// Builder produces export snapshots. Builds are bounded by a hard
// timeout; past it the in-flight composition work is abandoned and
// nothing partial is returned.
type Builder struct {
	timeout time.Duration
	log     zerolog.Logger
}

// NewBuilder creates a snapshot builder.
func NewBuilder(timeout time.Duration, log zerolog.Logger) *Builder {
	if timeout <= 0 {
		timeout = DefaultBuildTimeout
	}
	return &Builder{timeout: timeout, log: log}
}

// Build produces a disconnected snapshot of the report at call time.
func (b *Builder) Build(ctx context.Context, r *report.Report, layout Layout, opts Options) (*Snapshot, error) {
	if !validLayouts[layout] {
		return nil, fmt.Errorf("invalid layout: %s", layout)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	// Work on a deep copy so the snapshot can never alias live state.
	src := r.Clone()

	snap := &Snapshot{
		ReportID:      src.ID,
		StudyRef:      src.StudyRef,
		PatientRef:    src.PatientRef,
		PatientName:   src.PatientName,
		Status:        src.Status,
		Amended:       src.IsAmended(),
		Version:       src.Version,
		Layout:        layout,
		BuiltAt:       time.Now(),
		SectionOrder:  src.SectionOrder,
		Sections:      src.Sections,
		Findings:      src.Findings,
		Signature:     src.Signature,
		Addenda:       src.Addenda,
		CriticalComms: src.CriticalComms,
	}

	redact := opts.RedactPHI || layout == LayoutResearch
	if redact {
		snap.PatientRef = ""
		snap.PatientName = ""
		snap.CaseCode = CaseCode(src)
	}
	if layout == LayoutResearch {
		snap.ImagesFirst = true
	}
	if layout == LayoutPatient {
		for id, text := range snap.Sections {
			snap.Sections[id] = simplifyForPatient(text)
		}
		for i := range snap.Findings {
			snap.Findings[i].Description = simplifyForPatient(snap.Findings[i].Description)
		}
	}

	snap.Measurements, snap.Legend = annotationIndex(src)

	if err := b.composeFigures(ctx, snap, src.KeyImages, opts); err != nil {
		return nil, err
	}

	if opts.Format == FormatMarkup {
		markup, err := renderMarkup(snap)
		if err != nil {
			return nil, fmt.Errorf("render markup: %w", err)
		}
		snap.Markup = markup
	}
	if err := checkDeadline(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

// composeFigures flattens each key image. An individual composition
// failure degrades gracefully: the unannotated base image is
// substituted, the failure is logged, and the export continues.
func (b *Builder) composeFigures(ctx context.Context, snap *Snapshot, images []report.KeyImage, opts Options) error {
	sort.SliceStable(images, func(i, j int) bool { return images[i].Order < images[j].Order })

	imgOpts := opts.imaging()
	for _, ki := range images {
		if err := checkDeadline(ctx); err != nil {
			return err
		}
		fig := Figure{ID: ki.ID, Caption: ki.Caption, MIME: imgOpts.MIME()}
		data, err := imaging.Compose(ki.BaseImage, ki.OverlayRaster, ki.OverlayVector, imgOpts)
		if err != nil {
			b.log.Warn().Err(err).
				Str("report_id", snap.ReportID.String()).
				Str("image_id", ki.ID).
				Msg("figure composition failed, substituting unannotated image")
			fig.Data = append([]byte(nil), ki.BaseImage...)
			fig.Degraded = true
		} else {
			fig.Data = data
		}
		snap.Figures = append(snap.Figures, fig)
	}
	return nil
}

func checkDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrExportTimeout
	}
	return nil
}

// annotationIndex walks all key images once, assigning callout numbers
// to AI detections first, then to measurement annotations, producing the
// measurements table and figure legend.
func annotationIndex(r *report.Report) ([]MeasurementRow, []LegendEntry) {
	var rows []MeasurementRow
	var legend []LegendEntry
	callout := 0

	for _, d := range r.AIDetections {
		if d.Label == "normal anatomy" {
			continue
		}
		callout++
		legend = append(legend, LegendEntry{
			Callout: callout,
			Label:   fmt.Sprintf("%s (AI, %s confidence)", d.Label, d.Confidence),
			Source:  "ai",
		})
	}

	for _, ki := range r.KeyImages {
		for _, op := range ki.OverlayVector {
			if op.Kind != report.VectorMeasurement {
				continue
			}
			callout++
			label := op.Label
			if label == "" {
				label = "measurement"
			}
			legend = append(legend, LegendEntry{
				Callout: callout,
				ImageID: ki.ID,
				Label:   label,
				Source:  "annotation",
			})
			rows = append(rows, MeasurementRow{
				Callout: callout,
				ImageID: ki.ID,
				Label:   label,
				ValueMM: op.ValueMM,
			})
		}
	}
	return rows, legend
}

// CaseCode derives the stable de-identified code substituted for
// patient identifiers under PHI redaction.
func CaseCode(r *report.Report) string {
	sum := sha256.Sum256([]byte(r.ID.String()))
	return "CASE-" + strings.ToUpper(hex.EncodeToString(sum[:4]))
}

// patientTerms maps radiology vocabulary onto plain language for the
// patient layout.
var patientTerms = map[string]string{
	"cardiomegaly":     "an enlarged heart",
	"pleural effusion": "fluid around the lung",
	"pneumonia":        "a lung infection",
	"atelectasis":      "a partly collapsed area of lung",
	"consolidation":    "an area of the lung filled with fluid",
	"pulmonary edema":  "excess fluid in the lungs",
	"lung nodule":      "a small spot on the lung",
	"fracture":         "a broken bone",
	"unremarkable":     "normal",
	"acute":            "new",
}

func simplifyForPatient(text string) string {
	out := text
	for term, plain := range patientTerms {
		out = strings.ReplaceAll(out, term, plain)
		out = strings.ReplaceAll(out, capitalize(term), capitalize(plain))
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
