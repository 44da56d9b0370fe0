package report

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Synthesis of narrative text from raw AI detections. The detection
// producer emits chest-film labels with a score and a coarse confidence
// band; these helpers turn that into editable report prose.

// detectionSeverity maps the producer's confidence band onto a finding
// severity. Detections are suggestions, never critical on their own.
func detectionSeverity(confidence string) Severity {
	switch confidence {
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityModerate
	default:
		return SeverityLow
	}
}

// SynthesizeFindingsNarrative assembles a findings paragraph from
// detections, one sentence per detection with confidence and any
// measurements inline.
func SynthesizeFindingsNarrative(detections []AIDetection) string {
	var b strings.Builder
	for _, d := range detections {
		if d.Label == "normal anatomy" {
			continue
		}
		fmt.Fprintf(&b, "AI-assisted detection: %s (%s confidence, score %.2f)",
			d.Label, d.Confidence, d.Score)
		for _, m := range d.Measurements {
			fmt.Fprintf(&b, ", %s %.1f %s", m.Label, m.Value, m.Unit)
		}
		b.WriteString(".\n")
	}
	if b.Len() == 0 {
		return "No abnormality detected by AI analysis.\n"
	}
	return b.String()
}

// SynthesizeImpression produces a short suggested impression line from
// the highest-scoring detections.
func SynthesizeImpression(detections []AIDetection) string {
	var labels []string
	for _, d := range detections {
		if d.Label == "normal anatomy" {
			continue
		}
		if d.Confidence == "high" || d.Confidence == "medium" {
			labels = append(labels, d.Label)
		}
	}
	if len(labels) == 0 {
		return "No acute findings suggested by AI analysis. Clinical correlation recommended.\n"
	}
	return fmt.Sprintf("Suggested: findings consistent with %s. Radiologist review required.\n",
		strings.Join(labels, ", "))
}

// FindingsFromDetections projects detections into structured findings
// marked as AI-detected.
func FindingsFromDetections(detections []AIDetection) []Finding {
	var out []Finding
	for _, d := range detections {
		if d.Label == "normal anatomy" {
			continue
		}
		f := Finding{
			ID:          uuid.New().String(),
			Description: fmt.Sprintf("%s (AI score %.2f)", d.Label, d.Score),
			Severity:    detectionSeverity(d.Confidence),
			AIDetected:  true,
		}
		if d.Coordinates != nil {
			co := *d.Coordinates
			f.Coordinates = &co
		}
		f.Measurements = append([]Measurement(nil), d.Measurements...)
		out = append(out, f)
	}
	return out
}
