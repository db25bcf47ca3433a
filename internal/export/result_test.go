package export

import (
	"encoding/json"
	"testing"

	"github.com/dnswlt/portexport/internal/port"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestResultAppend(t *testing.T) {
	r := NewResult()
	r.Append("b", port.Entity{"identifier": "b1"})
	r.Append("empty")
	r.Append("a", port.Entity{"identifier": "a1"})
	r.Append("b", port.Entity{"identifier": "b2"})

	if diff := cmp.Diff([]string{"b", "a"}, r.Blueprints()); diff != "" {
		t.Errorf("Blueprints() mismatch (-want +got):\n%s", diff)
	}
	if got := r.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
	if _, ok := r.Map()["empty"]; ok {
		t.Error("appending no entities created a key")
	}
	if diff := cmp.Diff([]string{"b1", "b2"}, ids(r)["b"]); diff != "" {
		t.Errorf("Entities(b) mismatch (-want +got):\n%s", diff)
	}
}

func TestResultMarshalJSON(t *testing.T) {
	r := NewResult()
	r.Append("z", port.Entity{"identifier": "1", "n": json.Number("1.50")})
	r.Append("a", port.Entity{"identifier": "2", "t": "x&y"})

	got, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"z":[{"identifier":"1","n":1.50}],"a":[{"identifier":"2","t":"x\u0026y"}]}`
	if string(got) != want {
		t.Errorf("json.Marshal() = %s, want %s", got, want)
	}

	raw, err := r.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want = `{"z":[{"identifier":"1","n":1.50}],"a":[{"identifier":"2","t":"x&y"}]}`
	if string(raw) != want {
		t.Errorf("MarshalJSON() = %s, want %s", raw, want)
	}
}

func TestResultMarshalYAML(t *testing.T) {
	r := NewResult()
	r.Append("z", port.Entity{"identifier": "1", "n": json.Number("7")})
	r.Append("a", port.Entity{"identifier": "2", "f": json.Number("0.25")})

	got, err := yaml.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	want := "z:\n    - identifier: \"1\"\n      n: 7\na:\n    - f: 0.25\n      identifier: \"2\"\n"
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("yaml.Marshal() mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONSafe(t *testing.T) {
	in := map[string]any{
		"s":    "x",
		"list": []any{json.Number("1"), func() {}},
		"nested": port.Entity{
			"ok": true,
		},
	}
	got, ok := jsonSafe(in).(map[string]any)
	if !ok {
		t.Fatalf("jsonSafe() returned %T", jsonSafe(in))
	}
	if _, err := json.Marshal(got); err != nil {
		t.Errorf("jsonSafe() result is not marshalable: %v", err)
	}
	if s, ok := got["list"].([]any)[1].(string); !ok || s == "" {
		t.Errorf("function value = %v, want its string form", got["list"].([]any)[1])
	}
	if diff := cmp.Diff(map[string]any{"ok": true}, got["nested"]); diff != "" {
		t.Errorf("nested mismatch (-want +got):\n%s", diff)
	}
}
