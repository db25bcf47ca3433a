package port

import (
	"encoding/json"
	"testing"
)

func TestValueString(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{json.Number("42"), "42"},
		{json.Number("1.50"), "1.50"},
		{true, "true"},
		{2.5, "2.5"},
		{7, "7"},
		{[]any{"a", "b"}, `["a","b"]`},
		{map[string]any{"k": "v"}, `{"k":"v"}`},
		{struct{ A int }{1}, "{1}"},
	}
	for _, tc := range tests {
		if got := ValueString(tc.in); got != tc.want {
			t.Errorf("ValueString(%#v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEntityAccessors(t *testing.T) {
	e := Entity{
		"identifier": "svc-1",
		"title":      "Service 1",
		"createdBy":  42,
		"properties": map[string]any{"lang": "go"},
	}
	if e.Identifier() != "svc-1" {
		t.Errorf("Identifier() = %q", e.Identifier())
	}
	if e.Title() != "Service 1" {
		t.Errorf("Title() = %q", e.Title())
	}
	if e.String("createdBy") != "" {
		t.Errorf("String() of non-string field = %q, want empty", e.String("createdBy"))
	}
	if e.Properties()["lang"] != "go" {
		t.Errorf("Properties() = %v", e.Properties())
	}
	if e.Relations() != nil {
		t.Errorf("Relations() = %v, want nil", e.Relations())
	}
	if (Blueprint{"title": "x"}).Identifier() != "" {
		t.Error("Blueprint without identifier has non-empty Identifier()")
	}
}
