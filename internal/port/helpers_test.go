package port

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newJSONServer returns the URL of a server that answers every request with body.
func newJSONServer(t *testing.T, body string) string {
	t.Helper()
	return newHandlerServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	})
}

func newHandlerServer(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}
