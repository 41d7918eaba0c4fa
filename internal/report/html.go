package report

import (
	"fmt"
	"html/template"
	"io"
)

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct":  func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
	"date": func(r *Report) string { return r.StartTime.Format("2006-01-02 15:04") + " - " + r.EndTime.Format("2006-01-02 15:04") },
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>DockPulse report</title></head>
<body>
<h1>DockPulse report</h1>
<p>{{date .}} &middot; {{.Samples}} samples</p>
<h2>Alerts</h2>
<p>{{.AlertSummary.TotalAlerts}} total: {{.AlertSummary.CriticalAlerts}} critical, {{.AlertSummary.WarningAlerts}} warning, {{.AlertSummary.InfoAlerts}} info</p>
{{if .AlertSummary.TopMetrics}}<table>
<tr><th>Metric</th><th>Alerts</th><th>Max level</th><th>Containers</th></tr>
{{range .AlertSummary.TopMetrics}}<tr><td>{{.Metric}}</td><td>{{.AlertCount}}</td><td>{{.MaxLevel}}</td><td>{{range $i, $t := .TopTargets}}{{if $i}}, {{end}}{{$t}}{{end}}</td></tr>
{{end}}</table>{{end}}
<h2>Top containers</h2>
<table>
<tr><th>Container</th><th>Samples</th><th>Alerts</th><th>CPU avg</th><th>CPU max</th><th>Mem avg</th><th>Mem max</th></tr>
{{range .TopContainers}}<tr><td>{{.ContainerName}}</td><td>{{.Samples}}</td><td>{{.AlertCount}}</td><td>{{pct .CPUAvg}}</td><td>{{pct .CPUMax}}</td><td>{{pct .MemAvg}}</td><td>{{pct .MemMax}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// WriteHTML renders r as a standalone HTML page.
func WriteHTML(w io.Writer, r *Report) error {
	if err := htmlTemplate.Execute(w, r); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}
