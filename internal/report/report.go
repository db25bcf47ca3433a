// Package report renders a human readable summary of an export run
// as Markdown or, converted with goldmark, as HTML.
package report

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dnswlt/portexport/internal/export"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// BlueprintCount is the number of entities exported under one blueprint.
type BlueprintCount struct {
	Blueprint string
	Entities  int
}

// Report describes one export run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Scope    export.Scope
	Filter   string
	Summary  *export.Summary
	Counts   []BlueprintCount
}

// New builds a report from the result and summary of a run.
func New(runID string, scope export.Scope, res *export.Result, summary *export.Summary, started, finished time.Time) *Report {
	r := &Report{
		RunID:    runID,
		Started:  started,
		Finished: finished,
		Scope:    scope,
		Summary:  summary,
	}
	for _, bp := range res.Blueprints() {
		r.Counts = append(r.Counts, BlueprintCount{Blueprint: bp, Entities: len(res.Entities(bp))})
	}
	return r
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// Markdown renders the report as GitHub flavored Markdown.
func (r *Report) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Port entity export\n\n")
	if r.RunID != "" {
		fmt.Fprintf(&sb, "- Run: `%s`\n", r.RunID)
	}
	fmt.Fprintf(&sb, "- Mode: %s\n", r.Scope.Mode)
	switch r.Scope.Mode {
	case export.ModeBlueprints:
		fmt.Fprintf(&sb, "- Blueprints: %s\n", strings.Join(r.Scope.Blueprints, ", "))
	case export.ModeEntities:
		fmt.Fprintf(&sb, "- Entities: %s\n", strings.Join(r.Scope.Entities, ", "))
	}
	if len(r.Scope.Exclude) > 0 && r.Scope.Mode != export.ModeEntities {
		excluded := make([]string, 0, len(r.Scope.Exclude))
		for id := range r.Scope.Exclude {
			excluded = append(excluded, id)
		}
		slices.Sort(excluded)
		fmt.Fprintf(&sb, "- Excluded: %s\n", strings.Join(excluded, ", "))
	}
	if r.Filter != "" {
		fmt.Fprintf(&sb, "- Filter: `%s`\n", r.Filter)
	}
	if !r.Started.IsZero() {
		fmt.Fprintf(&sb, "- Started: %s\n", r.Started.Format(time.RFC3339))
		if !r.Finished.IsZero() {
			fmt.Fprintf(&sb, "- Duration: %s\n", r.Finished.Sub(r.Started).Round(time.Millisecond))
		}
	}
	if s := r.Summary; s != nil {
		fmt.Fprintf(&sb, "- Format: %s\n", strings.ToUpper(string(s.Format)))
		if s.Written {
			fmt.Fprintf(&sb, "- Output file: `%s`\n", s.Path)
		} else {
			fmt.Fprintf(&sb, "- Output file: `%s` (not written)\n", s.Path)
		}
		fmt.Fprintf(&sb, "- Total entities: %d\n", s.Entities)
	}

	sb.WriteString("\n## Blueprints\n\n")
	if len(r.Counts) == 0 {
		sb.WriteString("No entities were exported.\n")
		return sb.String()
	}
	sb.WriteString("| Blueprint | Entities |\n")
	sb.WriteString("|---|---:|\n")
	for _, c := range r.Counts {
		fmt.Fprintf(&sb, "| %s | %d |\n", escapeCell(c.Blueprint), c.Entities)
	}
	return sb.String()
}

// HTML renders the report as a standalone HTML page.
func (r *Report) HTML() (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert([]byte(r.Markdown()), &body); err != nil {
		return "", fmt.Errorf("failed to process markdown: %v", err)
	}
	title := "Port entity export"
	if r.RunID != "" {
		title += " " + r.RunID
	}
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", html.EscapeString(title))
	sb.WriteString("</head>\n<body>\n")
	sb.Write(body.Bytes())
	sb.WriteString("</body>\n</html>\n")
	return sb.String(), nil
}

// Write writes the report to path, as HTML if path ends in .html or .htm
// and as Markdown otherwise.
func Write(path string, r *Report) error {
	var content string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		h, err := r.HTML()
		if err != nil {
			return err
		}
		content = h
	default:
		content = r.Markdown()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
