package report

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/antigravity-dev/reconx/internal/reconutil"
)

// RenderJSON writes the combined model pretty-printed with sorted keys to
// "<out>/combined/combined_report.json".
func RenderJSON(c Combined, outDir string) (string, error) {
	path := filepath.Join(outDir, "combined", "combined_report.json")
	if err := reconutil.DumpJSON(c, path); err != nil {
		return "", fmt.Errorf("report: render json: %w", err)
	}
	return path, nil
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>reconx report</title></head>
<body>
<h1>Targets</h1>
<ul>
{{- range .Targets}}
<li>{{.}}</li>
{{- end}}
</ul>

<h1>Services</h1>
<table border="1">
<tr><th>Target</th><th>Port</th><th>Proto</th><th>Service</th><th>Product</th><th>Version</th></tr>
{{- range .Services}}
<tr><td>{{.Target}}</td><td>{{if .Port}}{{.Port}}{{end}}</td><td>{{.Proto}}</td><td>{{.Service}}</td><td>{{.Product}}</td><td>{{.Version}}</td></tr>
{{- end}}
</table>

<h1>Findings</h1>
<ul>
{{- range .Findings}}
<li>[{{.Severity}}] {{.Target}}: {{.Title}}</li>
{{- end}}
</ul>

<h1>Evidence</h1>
<ul>
{{- range .Evidence}}
<li>{{.Target}}: {{.Type}}{{if .Service}} ({{.Service}}){{end}}</li>
{{- end}}
</ul>
</body>
</html>
`

var tmpl = template.Must(template.New("report").Parse(htmlTemplate))

// RenderHTML renders a single-file, human-facing HTML report to
// "<out>/combined/combined_report.html". Every field sourced from probe
// output passes through html/template, which auto-escapes it: evidence
// and finding text originates from untrusted network responses.
func RenderHTML(c Combined, outDir string) (string, error) {
	path := filepath.Join(outDir, "combined", "combined_report.html")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("report: render html: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("report: render html: %w", err)
	}
	defer f.Close()
	if err := tmpl.Execute(f, c); err != nil {
		return "", fmt.Errorf("report: render html: execute: %w", err)
	}
	return path, nil
}
