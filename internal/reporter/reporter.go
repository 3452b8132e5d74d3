// Package reporter renders grouped costs and dashboard summaries
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lvonguyen/cloudspend/internal/aggregator"
	"github.com/lvonguyen/cloudspend/internal/config"
)

// Format is an output format
type Format string

const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatHTML  Format = "html"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatCSV, FormatJSON, FormatHTML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown format %q (want table, csv, json or html)", s)
	}
}

// GroupReport is a titled set of grouped totals
type GroupReport struct {
	Title       string
	GroupBy     string
	Results     []aggregator.GroupResult
	GeneratedAt time.Time
}

// SummaryReport is a dashboard summary for one tenant
type SummaryReport struct {
	TenantID    string
	Summary     aggregator.Summary
	GeneratedAt time.Time
}

// Reporter renders reports
type Reporter struct {
	config config.ReporterConfig
}

// New creates a new Reporter
func New(cfg config.ReporterConfig) *Reporter {
	return &Reporter{config: cfg}
}

// WriteGroups renders a group report to w
func (r *Reporter) WriteGroups(w io.Writer, format Format, data GroupReport) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, data.Results)
	case FormatCSV:
		cw := csv.NewWriter(w)
		cw.Write([]string{data.GroupBy, "missing", "total_cost"})
		for _, g := range data.Results {
			cw.Write([]string{g.Group, strconv.FormatBool(g.Missing), g.TotalCost.String()})
		}
		cw.Flush()
		return cw.Error()
	case FormatHTML:
		return groupsTemplate.Execute(w, data)
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintf(tw, "%s\tCOST\t\n", header(data.GroupBy))
		for _, g := range data.Results {
			fmt.Fprintf(tw, "%s\t%s\t\n", g.Group, g.TotalCost.StringFixed(2))
		}
		return tw.Flush()
	}
}

// WriteSummary renders a summary report to w
func (r *Reporter) WriteSummary(w io.Writer, format Format, data SummaryReport) error {
	s := data.Summary
	switch format {
	case FormatJSON:
		return writeJSON(w, s)
	case FormatCSV:
		cw := csv.NewWriter(w)
		cw.Write([]string{"section", "name", "amount"})
		cw.Write([]string{"total", "", s.TotalCost.String()})
		for _, svc := range s.TopServices {
			cw.Write([]string{"service", svc.Service, svc.Cost.String()})
		}
		for _, sub := range s.Subscriptions {
			cw.Write([]string{"subscription", sub.Name, sub.Cost.String()})
		}
		cw.Write([]string{"estimated_savings", "", s.EstimatedSavings.String()})
		cw.Flush()
		return cw.Error()
	case FormatHTML:
		return summaryTemplate.Execute(w, data)
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Total cost:\t%s\n", s.TotalCost.StringFixed(2))
		fmt.Fprintf(tw, "Estimated savings:\t%s\n\n", s.EstimatedSavings.StringFixed(2))
		fmt.Fprintln(tw, "SERVICE\tCOST")
		for _, svc := range s.TopServices {
			fmt.Fprintf(tw, "%s\t%s\n", svc.Service, svc.Cost.StringFixed(2))
		}
		if len(s.Subscriptions) > 0 {
			fmt.Fprintln(tw, "\nSUBSCRIPTION\tUSERS\tCOST")
			for _, sub := range s.Subscriptions {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", sub.Name, sub.Users, sub.Cost.StringFixed(2))
			}
		}
		return tw.Flush()
	}
}

// SaveGroups writes a group report into the configured output directory and
// returns the file path.
func (r *Reporter) SaveGroups(format Format, data GroupReport) (string, error) {
	return r.save(format, func(w io.Writer) error { return r.WriteGroups(w, format, data) })
}

// SaveSummary writes a summary report into the configured output directory
// and returns the file path.
func (r *Reporter) SaveSummary(format Format, data SummaryReport) (string, error) {
	return r.save(format, func(w io.Writer) error { return r.WriteSummary(w, format, data) })
}

func (r *Reporter) save(format Format, render func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(r.config.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	ext := string(format)
	if format == FormatTable {
		ext = "txt"
	}
	filename := fmt.Sprintf("cost-report-%s.%s", time.Now().Format("20060102-150405"), ext)
	outputPath := filepath.Join(r.config.OutputDir, filename)

	f, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if err := render(f); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return outputPath, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func header(groupBy string) string {
	if groupBy == "" {
		return "GROUP"
	}
	return strings.ToUpper(groupBy)
}

const htmlHead = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Cloud Cost Report</title>
    <style>
        body { font-family: 'Inter', -apple-system, sans-serif; background: #0f172a; color: #f1f5f9; padding: 2rem; }
        .subtitle { color: #94a3b8; margin-bottom: 2rem; }
        .stat-value { font-size: 2rem; font-weight: 700; }
        table { width: 100%; border-collapse: collapse; background: #1e293b; }
        th, td { padding: 0.75rem 1rem; text-align: left; }
        th { color: #3b82f6; }
        td.cost { text-align: right; }
        .missing { color: #94a3b8; font-style: italic; }
    </style>
</head>
<body>`

var groupsTemplate = template.Must(template.New("groups").Parse(htmlHead + `
    <h1>{{.Title}}</h1>
    <p class="subtitle">Generated: {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>
    <table>
        <thead><tr><th>{{.GroupBy}}</th><th>Cost</th></tr></thead>
        <tbody>
        {{range .Results}}
            <tr><td{{if .Missing}} class="missing"{{end}}>{{.Group}}</td><td class="cost">{{.TotalCost.StringFixed 2}}</td></tr>
        {{end}}
        </tbody>
    </table>
</body>
</html>`))

var summaryTemplate = template.Must(template.New("summary").Parse(htmlHead + `
    <h1>Cost Summary</h1>
    <p class="subtitle">Tenant {{.TenantID}} | Generated: {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>
    <div class="stat-value">{{.Summary.TotalCost.StringFixed 2}}</div>
    <h2>Top Services by Cost</h2>
    <table>
        <thead><tr><th>Service</th><th>Cost</th></tr></thead>
        <tbody>
        {{range .Summary.TopServices}}
            <tr><td>{{.Service}}</td><td class="cost">{{.Cost.StringFixed 2}}</td></tr>
        {{end}}
        </tbody>
    </table>
    {{if .Summary.Subscriptions}}
    <h2>SaaS Subscriptions</h2>
    <table>
        <thead><tr><th>Name</th><th>Users</th><th>Cost</th></tr></thead>
        <tbody>
        {{range .Summary.Subscriptions}}
            <tr><td>{{.Name}}</td><td>{{.Users}}</td><td class="cost">{{.Cost.StringFixed 2}}</td></tr>
        {{end}}
        </tbody>
    </table>
    {{end}}
</body>
</html>`))
