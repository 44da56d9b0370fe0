package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when no report exists for the given id.
	ErrNotFound = errors.New("report not found")

	// ErrStaleVersion is the repository-level signal that a
	// compare-and-swap matched zero rows. The committer translates it
	// into a VersionConflictError with the server state attached.
	ErrStaleVersion = errors.New("stale version")

	// ErrSignedImmutable rejects any mutation of sections, structured
	// findings or the signature once a report is preliminary or final.
	ErrSignedImmutable = errors.New("report content is signed and immutable")

	// ErrAddendumOnNonFinal rejects an addendum before the report has
	// been finalized.
	ErrAddendumOnNonFinal = errors.New("addendum requires a preliminary or final report")

	// ErrNoCriticalFinding rejects a critical-result communication when
	// no finding carries critical severity.
	ErrNoCriticalFinding = errors.New("no critical finding to communicate")
)

// ValidationFailedError carries the list of content requirements that
// blocked a finalize or sign. No state change occurred.
type ValidationFailedError struct {
	Errors []string
}

func (e *ValidationFailedError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// VersionConflictError reports an optimistic-lock miss. ServerVersion is
// the version the winning writer produced; ConflictingFields lists the
// fields whose server values differ from what the loser intended to
// write, so a caller can offer reload-vs-overwrite instead of guessing.
type VersionConflictError struct {
	ServerVersion     int
	ConflictingFields []string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: server at version %d (fields: %s)",
		e.ServerVersion, strings.Join(e.ConflictingFields, ", "))
}

// diffReports compares the fields the caller intended to write against
// the current server-side values, field by field.
func diffReports(server, intended *Report) []string {
	fields := map[string]bool{}

	if server.Status != intended.Status {
		fields["status"] = true
	}
	if strPtrVal(server.TemplateID) != strPtrVal(intended.TemplateID) {
		fields["template_id"] = true
	}
	for id, text := range intended.Sections {
		if server.Sections[id] != text {
			fields["sections."+id] = true
		}
	}
	for id := range server.Sections {
		if _, ok := intended.Sections[id]; !ok {
			fields["sections."+id] = true
		}
	}
	if !findingsEqual(server.Findings, intended.Findings) {
		fields["structured_findings"] = true
	}
	if !signaturesEqual(server.Signature, intended.Signature) {
		fields["signature"] = true
	}
	if len(server.Addenda) != len(intended.Addenda) {
		fields["addenda"] = true
	}
	if len(server.CriticalComms) != len(intended.CriticalComms) {
		fields["critical_communications"] = true
	}
	if len(server.KeyImages) != len(intended.KeyImages) {
		fields["key_images"] = true
	}

	out := make([]string, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func findingsEqual(a, b []Finding) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Description != b[i].Description ||
			a[i].Location != b[i].Location || a[i].Severity != b[i].Severity {
			return false
		}
	}
	return true
}

func signaturesEqual(a, b *Signature) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.SignerName == b.SignerName && a.Meaning == b.Meaning
}

func strPtrVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
