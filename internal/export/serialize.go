package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dnswlt/portexport/internal/port"
	"gopkg.in/yaml.v3"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

var ErrUnsupportedFormat = errors.New("unsupported format")

// Formats lists all supported formats.
func Formats() []Format {
	return []Format{FormatJSON, FormatYAML, FormatCSV}
}

// ParseFormat parses a format name, ignoring case.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Formats(), f) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// Fixed columns of the flattened CSV encoding and the entity fields they are read from.
var csvFixedColumns = []struct {
	name  string
	field string
}{
	{"entity_id", "identifier"},
	{"title", "title"},
	{"created_at", "createdAt"},
	{"updated_at", "updatedAt"},
	{"created_by", "createdBy"},
	{"updated_by", "updatedBy"},
}

const (
	csvBlueprintColumn = "blueprint_id"
	csvPropertyPrefix  = "prop_"
	csvRelationPrefix  = "rel_"
)

// Summary describes a completed Save.
type Summary struct {
	Entities   int
	Blueprints int
	Path       string
	Format     Format
	// False if nothing was written (CSV with zero entities).
	Written bool
}

// Print writes a human readable summary to w.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Export completed successfully!")
	fmt.Fprintf(w, "Total entities exported: %d\n", s.Entities)
	fmt.Fprintf(w, "Blueprints included: %d\n", s.Blueprints)
	if s.Written {
		fmt.Fprintf(w, "Output file: %s\n", s.Path)
	} else {
		fmt.Fprintf(w, "Output file: %s (not written, no entities)\n", s.Path)
	}
	fmt.Fprintf(w, "Format: %s\n", strings.ToUpper(string(s.Format)))
}

// Save writes r to path in the given format, creating parent directories as needed.
// For CSV, a result without entities produces no file at all.
func Save(r *Result, path string, format Format) (*Summary, error) {
	if !slices.Contains(Formats(), format) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	summary := &Summary{
		Entities:   r.Len(),
		Blueprints: len(r.Blueprints()),
		Path:       path,
		Format:     format,
	}
	if format == FormatCSV && r.Len() == 0 {
		return summary, nil
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	switch format {
	case FormatJSON:
		err = WriteJSON(f, r)
	case FormatYAML:
		err = WriteYAML(f, r)
	case FormatCSV:
		err = WriteCSV(f, r)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to save entities to %s: %w", path, err)
	}
	summary.Written = true
	return summary, nil
}

// WriteJSON writes r as an indented JSON document.
func WriteJSON(w io.Writer, r *Result) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteYAML writes r as a block style YAML document.
func WriteYAML(w io.Writer, r *Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// FlattenRows returns one column->value row per entity, in result order.
func FlattenRows(r *Result) []map[string]string {
	var rows []map[string]string
	for _, bp := range r.Blueprints() {
		for _, e := range r.Entities(bp) {
			rows = append(rows, flattenEntity(bp, e))
		}
	}
	return rows
}

func flattenEntity(blueprint string, e port.Entity) map[string]string {
	row := map[string]string{csvBlueprintColumn: blueprint}
	for _, c := range csvFixedColumns {
		row[c.name] = port.ValueString(e[c.field])
	}
	for k, v := range e.Properties() {
		row[csvPropertyPrefix+k] = port.ValueString(v)
	}
	for k, v := range e.Relations() {
		row[csvRelationPrefix+k] = port.ValueString(v)
	}
	return row
}

// Columns returns the sorted union of all keys of rows.
//
// Fixed columns are sorted together with the prop_ and rel_ columns, so
// blueprint_id is not necessarily first.
func Columns(rows []map[string]string) []string {
	set := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			set[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for k := range set {
		cols = append(cols, k)
	}
	slices.Sort(cols)
	return cols
}

// WriteCSV writes one row per entity with a header row. Writes nothing if r is empty.
func WriteCSV(w io.Writer, r *Result) error {
	rows := FlattenRows(r)
	if len(rows) == 0 {
		return nil
	}
	cols := Columns(rows)
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	record := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			record[i] = row[c]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
