// Package export retrieves entity sets from the Port API according to a scope
// mode and writes them to a file in JSON, YAML or CSV format.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dnswlt/portexport/internal/port"
	"gopkg.in/yaml.v3"
)

// Result maps blueprint identifiers to the entities retrieved under them.
// Blueprints keep the order in which they were first added.
type Result struct {
	order    []string
	entities map[string][]port.Entity
}

func NewResult() *Result {
	return &Result{entities: make(map[string][]port.Entity)}
}

// Append adds entities under blueprint. Appending nothing does not create the key.
func (r *Result) Append(blueprint string, entities ...port.Entity) {
	if len(entities) == 0 {
		return
	}
	if _, ok := r.entities[blueprint]; !ok {
		r.order = append(r.order, blueprint)
	}
	r.entities[blueprint] = append(r.entities[blueprint], entities...)
}

// Blueprints returns the blueprint identifiers in insertion order.
func (r *Result) Blueprints() []string {
	return r.order
}

// Entities returns the entities exported under blueprint.
func (r *Result) Entities(blueprint string) []port.Entity {
	return r.entities[blueprint]
}

// Len returns the total number of entities.
func (r *Result) Len() int {
	n := 0
	for _, es := range r.entities {
		n += len(es)
	}
	return n
}

// Map returns the result as a plain map.
func (r *Result) Map() map[string][]port.Entity {
	m := make(map[string][]port.Entity, len(r.entities))
	for k, v := range r.entities {
		m[k] = v
	}
	return m
}

// MarshalJSON writes the result as a JSON object with keys in insertion order.
func (r *Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, bp := range r.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := encodeJSON(bp)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := marshalEntitiesJSON(r.entities[bp])
		if err != nil {
			return nil, fmt.Errorf("blueprint %s: %w", bp, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalEntitiesJSON encodes entities, replacing values that JSON cannot
// represent with their string form.
func marshalEntitiesJSON(entities []port.Entity) ([]byte, error) {
	bs, err := encodeJSON(entities)
	if err == nil {
		return bs, nil
	}
	safe := make([]any, len(entities))
	for i, e := range entities {
		safe[i] = jsonSafe(map[string]any(e))
	}
	return encodeJSON(safe)
}

// encodeJSON is json.Marshal without HTML escaping.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func jsonSafe(v any) any {
	switch x := v.(type) {
	case nil, string, bool, json.Number:
		return x
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = jsonSafe(e)
		}
		return m
	case port.Entity:
		return jsonSafe(map[string]any(x))
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = jsonSafe(e)
		}
		return s
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}

// MarshalYAML emits a mapping node with keys in insertion order.
func (r *Result) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, bp := range r.order {
		var val yaml.Node
		if err := val.Encode(yamlValue(r.entities[bp])); err != nil {
			return nil, fmt.Errorf("blueprint %s: %w", bp, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: bp},
			&val,
		)
	}
	return node, nil
}

// yamlValue replaces JSON numbers by !!int or !!float scalar nodes that
// carry the original digits, so they are neither quoted nor rounded.
func yamlValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		tag := "!!int"
		if strings.ContainsAny(x.String(), ".eE") {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: x.String()}
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = yamlValue(e)
		}
		return m
	case port.Entity:
		return yamlValue(map[string]any(x))
	case []port.Entity:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = yamlValue(e)
		}
		return s
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = yamlValue(e)
		}
		return s
	}
	return v
}
