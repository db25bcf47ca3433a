// Package port implements a minimal client for the Port catalog REST API:
// token authentication, blueprint listing and entity retrieval.
package port

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const (
	// DefaultBaseURL is the public Port API endpoint.
	DefaultBaseURL = "https://api.getport.io/v1"
)

var (
	// ErrAuthFailed is returned by Authenticate when no access token could be obtained.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrNotFound signals that the requested blueprint or entity does not exist.
	ErrNotFound = errors.New("not found")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is reports 404 responses as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}

// Blueprint is a blueprint descriptor as returned by the API.
// Only the identifier is interpreted; all other fields are kept as is.
type Blueprint map[string]any

func (b Blueprint) Identifier() string {
	s, _ := b["identifier"].(string)
	return s
}

// Entity is a catalog entity as returned by the API. Its fields are kept
// verbatim so that they can be re-serialized without loss.
type Entity map[string]any

func (e Entity) Identifier() string {
	return e.String("identifier")
}

func (e Entity) Title() string {
	return e.String("title")
}

// String returns the top-level field key if it holds a string, else "".
func (e Entity) String(key string) string {
	s, _ := e[key].(string)
	return s
}

// Properties returns the entity's properties, or nil if it has none.
func (e Entity) Properties() map[string]any {
	m, _ := e["properties"].(map[string]any)
	return m
}

// Relations returns the entity's relations, or nil if it has none.
func (e Entity) Relations() map[string]any {
	m, _ := e["relations"].(map[string]any)
	return m
}

// ValueString renders a field value as a flat string: nil becomes "",
// scalars their literal form, and maps or slices compact JSON.
func ValueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case map[string]any, []any:
		bs, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(bs)
	default:
		return fmt.Sprint(x)
	}
}
