package cmd

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"strings"
	textTemplate "text/template"
	"time"

	"github.com/khanhnv2901/sentinelscope/internal/checker"
	"github.com/khanhnv2901/sentinelscope/internal/scan"
	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const (
	htmlTemplatePath     = "templates/report.html"
	markdownTemplatePath = "templates/report.md"
	jsonPrefix           = ""
	jsonIndent           = "  "
)

//go:embed templates/report.html templates/report.md
var reportTemplateFS embed.FS

var (
	templateFuncs = map[string]any{
		"join":       strings.Join,
		"formatTime": formatShortTimestamp,
		"upper":      strings.ToUpper,
	}

	htmlReportTemplate = template.Must(
		template.New("report.html").Funcs(template.FuncMap(templateFuncs)).ParseFS(reportTemplateFS, htmlTemplatePath),
	)
	markdownReportTemplate = textTemplate.Must(
		textTemplate.New("report.md").Funcs(textTemplate.FuncMap(templateFuncs)).ParseFS(reportTemplateFS, markdownTemplatePath),
	)
)

// outputOptions holds the report destinations chosen on the command line.
type outputOptions struct {
	JSON     bool
	Out      string
	HTML     string
	Markdown string
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "print the JSON report to stdout instead of the summary table")
	cmd.Flags().String("out", "", "write the JSON report to a file")
	cmd.Flags().String("html", "", "write an HTML report to a file")
	cmd.Flags().String("md", "", "write a markdown report to a file")
}

func readOutputOptions(cmd *cobra.Command) outputOptions {
	var opts outputOptions
	opts.JSON, _ = cmd.Flags().GetBool("json")
	opts.Out, _ = cmd.Flags().GetString("out")
	opts.HTML, _ = cmd.Flags().GetString("html")
	opts.Markdown, _ = cmd.Flags().GetString("md")
	return opts
}

// writeReport renders report to stdout and every requested file.
func writeReport(w io.Writer, report *scan.Report, opts outputOptions) error {
	if opts.JSON {
		data, err := generateJSONReport(report)
		if err != nil {
			return fmt.Errorf("failed to generate report: %w", err)
		}
		fmt.Fprintln(w, data)
	} else {
		summary, err := renderSummaryTable(report)
		if err != nil {
			return fmt.Errorf("failed to render summary: %w", err)
		}
		fmt.Fprint(w, summary)
	}

	files := []struct {
		path   string
		render func(*scan.Report) (string, error)
	}{
		{opts.Out, generateJSONReport},
		{opts.HTML, generateHTMLReport},
		{opts.Markdown, generateMarkdownReport},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		content, err := f.render(report)
		if err != nil {
			return fmt.Errorf("failed to generate report: %w", err)
		}
		if err := os.WriteFile(f.path, []byte(content), consts.DefaultFilePerm); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		if !opts.JSON {
			fmt.Fprintf(w, "%s Report written: %s\n", colorInfo("→"), f.path)
		}
	}
	return nil
}

func generateJSONReport(report *scan.Report) (string, error) {
	data, err := json.MarshalIndent(report, jsonPrefix, jsonIndent)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// renderSummaryTable lists every probe with its status and one-line detail.
func renderSummaryTable(report *scan.Report) (string, error) {
	rows := pterm.TableData{{"Probe", "Status", "Detail"}}
	for _, s := range report.Summaries() {
		rows = append(rows, []string{s.Probe, formatStatusWithColor(s.Status), s.Detail})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(rows).Srender()
	if err != nil {
		return "", err
	}

	ok, failed, skipped := report.Counts()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (scan %s, %dms)\n", colorInfo("→"), report.Domain, report.ScanID, report.DurationMS)
	b.WriteString(table)
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s ok, %s failed, %d skipped\n",
		colorSuccess(fmt.Sprint(ok)), colorError(fmt.Sprint(failed)), skipped)
	return b.String(), nil
}

type reportTemplateData struct {
	Report         *scan.Report
	Rows           []scan.ProbeSummary
	OK             int
	Failed         int
	Skipped        int
	HeaderGrade    string
	HeaderFindings []checker.HeaderFinding
	OpenPorts      []int
	Takeovers      []checker.TakeoverFinding
	Generated      time.Time
}

func buildTemplateData(report *scan.Report) reportTemplateData {
	data := reportTemplateData{
		Report:    report,
		Rows:      report.Summaries(),
		Generated: report.FinishedAt,
	}
	data.OK, data.Failed, data.Skipped = report.Counts()
	if headers, ok := report.Headers.Value(); ok {
		data.HeaderGrade = headers.Grade
		for _, f := range headers.Findings {
			if f.Status != checker.StatusPresent {
				data.HeaderFindings = append(data.HeaderFindings, f)
			}
		}
	}
	if ports, ok := report.Ports.Value(); ok {
		data.OpenPorts = ports.OpenPorts
	}
	if takeover, ok := report.Takeover.Value(); ok {
		data.Takeovers = takeover.Findings
	}
	return data
}

func generateHTMLReport(report *scan.Report) (string, error) {
	var buf bytes.Buffer
	if err := htmlReportTemplate.Execute(&buf, buildTemplateData(report)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func generateMarkdownReport(report *scan.Report) (string, error) {
	var buf bytes.Buffer
	if err := markdownReportTemplate.Execute(&buf, buildTemplateData(report)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatShortTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}
