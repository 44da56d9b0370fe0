package export

import (
	"bytes"
	"encoding/base64"
	"html/template"
)

// markupTemplate renders a snapshot as a standalone HTML document.
// Figures are inlined as data URIs so the document needs no side files.
var markupTemplate = template.Must(template.New("snapshot").Funcs(template.FuncMap{
	"datauri": func(f Figure) template.URL {
		return template.URL("data:" + f.MIME + ";base64," + base64.StdEncoding.EncodeToString(f.Data))
	},
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Report {{if .CaseCode}}{{.CaseCode}}{{else}}{{.StudyRef}}{{end}}</title></head>
<body>
<h1>Radiology Report{{if .Amended}} (Amended){{end}}</h1>
<p>
Study: {{.StudyRef}}<br>
{{- if .CaseCode}}
Case: {{.CaseCode}}<br>
{{- else}}
Patient: {{.PatientName}} ({{.PatientRef}})<br>
{{- end}}
Status: {{.Status}} &middot; v{{.Version}} &middot; {{.BuiltAt.Format "2006-01-02 15:04"}}
</p>
{{- if .ImagesFirst}}
{{template "figures" .}}
{{- end}}
{{- range $id := .SectionOrder}}
{{- with index $.Sections $id}}
<h2>{{$id}}</h2>
<p>{{.}}</p>
{{- end}}
{{- end}}
{{- if .Measurements}}
<h2>Measurements</h2>
<table>
<tr><th>#</th><th>Image</th><th>Label</th><th>mm</th></tr>
{{- range .Measurements}}
<tr><td>{{.Callout}}</td><td>{{.ImageID}}</td><td>{{.Label}}</td><td>{{printf "%.1f" .ValueMM}}</td></tr>
{{- end}}
</table>
{{- end}}
{{- if .Legend}}
<h2>Figure legend</h2>
<ol>
{{- range .Legend}}
<li value="{{.Callout}}">{{.Label}}</li>
{{- end}}
</ol>
{{- end}}
{{- if not .ImagesFirst}}
{{template "figures" .}}
{{- end}}
{{- if .Signature}}
<p>Signed by {{.Signature.SignerName}} ({{.Signature.Meaning}}) at {{.Signature.SignedAt.Format "2006-01-02 15:04"}}</p>
{{- end}}
{{- range .Addenda}}
<h3>Addendum ({{.Reason}})</h3>
<p>{{.Content}}<br><em>{{.AddedBy}}, {{.AddedAt.Format "2006-01-02 15:04"}}</em></p>
{{- end}}
</body>
</html>
{{define "figures"}}
{{- range .Figures}}
<figure>
<img src="{{datauri .}}" alt="{{.ID}}">
{{- if .Caption}}<figcaption>{{.Caption}}</figcaption>{{end}}
</figure>
{{- end}}
{{end}}`))

func renderMarkup(snap *Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := markupTemplate.Execute(&buf, snap); err != nil {
		return "", err
	}
	return buf.String(), nil
}
