package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dnswlt/portexport/internal/export"
	"github.com/dnswlt/portexport/internal/port"
	"github.com/google/go-cmp/cmp"
)

func testReport() *Report {
	res := export.NewResult()
	res.Append("service", port.Entity{"identifier": "a"}, port.Entity{"identifier": "b"})
	res.Append("odd|name", port.Entity{"identifier": "c"})
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	scope := export.Scope{Mode: export.ModeAll, Exclude: export.NewSet("z", "x")}
	summary := &export.Summary{Entities: 3, Blueprints: 2, Path: "out/e.json", Format: export.FormatJSON, Written: true}
	r := New("run-1", scope, res, summary, started, started.Add(1500*time.Millisecond))
	r.Filter = "team:payments"
	return r
}

func TestNew(t *testing.T) {
	r := testReport()
	want := []BlueprintCount{{"service", 2}, {"odd|name", 1}}
	if diff := cmp.Diff(want, r.Counts); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkdown(t *testing.T) {
	md := testReport().Markdown()
	for _, want := range []string{
		"# Port entity export\n",
		"- Run: `run-1`\n",
		"- Mode: all\n",
		"- Excluded: x, z\n",
		"- Filter: `team:payments`\n",
		"- Started: 2024-05-01T12:00:00Z\n",
		"- Duration: 1.5s\n",
		"- Format: JSON\n",
		"- Output file: `out/e.json`\n",
		"- Total entities: 3\n",
		"| service | 2 |\n",
		"| odd\\|name | 1 |\n",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown() does not contain %q:\n%s", want, md)
		}
	}
}

func TestMarkdownEmpty(t *testing.T) {
	r := New("", export.Scope{Mode: export.ModeEntities, Entities: []string{"db-1"}}, export.NewResult(), nil, time.Time{}, time.Time{})
	md := r.Markdown()
	if !strings.Contains(md, "No entities were exported.") || !strings.Contains(md, "- Entities: db-1\n") {
		t.Errorf("unexpected Markdown:\n%s", md)
	}
	if strings.Contains(md, "Run:") || strings.Contains(md, "Started:") {
		t.Errorf("Markdown() contains unset fields:\n%s", md)
	}
}

func TestHTML(t *testing.T) {
	h, err := testReport().HTML()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"<title>Port entity export run-1</title>",
		"<h1>Port entity export</h1>",
		"<table>",
		"<td>service</td>",
		"<td>odd|name</td>",
		"text-align:right",
	} {
		if !strings.Contains(h, want) {
			t.Errorf("HTML() does not contain %q:\n%s", want, h)
		}
	}
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	r := testReport()

	mdPath := filepath.Join(dir, "reports", "export.md")
	if err := Write(mdPath, r); err != nil {
		t.Fatalf("Write(md) failed: %v", err)
	}
	data, err := os.ReadFile(mdPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != r.Markdown() {
		t.Error("Markdown report content mismatch")
	}

	htmlPath := filepath.Join(dir, "export.HTML")
	if err := Write(htmlPath, r); err != nil {
		t.Fatalf("Write(html) failed: %v", err)
	}
	data, err = os.ReadFile(htmlPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "<!DOCTYPE html>") {
		t.Errorf("HTML report does not start with a doctype:\n%s", data)
	}
}
