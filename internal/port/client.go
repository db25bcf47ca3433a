package port

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/dnswlt/portexport/internal/metrics"
)

// Endpoint names used in logs and metrics.
const (
	endpointAuth       = "auth"
	endpointBlueprints = "blueprints"
	endpointEntities   = "entities"
	endpointEntity     = "entity"
)

// Response bodies of failed requests are cut to this length in error messages.
const maxErrorBody = 512

type ClientOptions struct {
	BaseURL      string // E.g., "https://api.getport.io/v1"
	ClientID     string
	ClientSecret string
	UserAgent    string

	HTTPClient *http.Client       // Defaults to a client without timeout.
	Logger     *slog.Logger       // Defaults to slog.Default().
	Metrics    *metrics.Collector // Optional.
}

// Client talks to the Port API. It is not safe for concurrent use:
// Authenticate mutates the session once, all later calls only read it.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	userAgent    string
	http         *http.Client
	logger       *slog.Logger
	metrics      *metrics.Collector

	token string
}

func NewClient(opts ClientOptions) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		userAgent:    opts.UserAgent,
		http:         opts.HTTPClient,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.userAgent == "" {
		c.userAgent = "portexport"
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Authenticated reports whether a bearer token is attached to the session.
func (c *Client) Authenticated() bool {
	return c.token != ""
}

type accessTokenRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type accessTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// Authenticate exchanges the client credentials for a bearer token and
// attaches it to all subsequent requests. Failures are logged and returned
// as errors wrapping ErrAuthFailed.
func (c *Client) Authenticate(ctx context.Context) error {
	c.logger.Info("Authenticating with Port API")
	var resp accessTokenResponse
	err := c.do(ctx, endpointAuth, http.MethodPost, "/auth/access_token", nil,
		accessTokenRequest{ClientID: c.clientID, ClientSecret: c.clientSecret}, &resp)
	if err == nil && resp.AccessToken == "" {
		err = fmt.Errorf("no access token in response")
	}
	c.metrics.ObserveRequest(endpointAuth, err, nil)
	if err != nil {
		c.logger.Error("Authentication failed", "error", err)
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	c.token = resp.AccessToken
	c.logger.Info("Authentication successful")
	return nil
}

func calculatedQuery(includeCalculated bool) url.Values {
	if includeCalculated {
		return nil
	}
	return url.Values{"exclude_calculated_properties": []string{"true"}}
}

// FetchBlueprints returns all blueprints, or the error that prevented listing them.
func (c *Client) FetchBlueprints(ctx context.Context) ([]Blueprint, error) {
	var resp struct {
		Blueprints []Blueprint `json:"blueprints"`
	}
	err := c.do(ctx, endpointBlueprints, http.MethodGet, "/blueprints", nil, nil, &resp)
	c.metrics.ObserveRequest(endpointBlueprints, err, ErrNotFound)
	if err != nil {
		return nil, err
	}
	return resp.Blueprints, nil
}

// FetchEntities returns all entities of the given blueprint.
func (c *Client) FetchEntities(ctx context.Context, blueprintID string, includeCalculated bool) ([]Entity, error) {
	var resp struct {
		Entities []Entity `json:"entities"`
	}
	path := "/blueprints/" + url.PathEscape(blueprintID) + "/entities"
	err := c.do(ctx, endpointEntities, http.MethodGet, path, calculatedQuery(includeCalculated), nil, &resp)
	c.metrics.ObserveRequest(endpointEntities, err, ErrNotFound)
	if err != nil {
		return nil, err
	}
	return resp.Entities, nil
}

// FetchEntity returns a single entity. The returned error wraps ErrNotFound
// if the server reports the entity as missing or returns no entity object.
func (c *Client) FetchEntity(ctx context.Context, blueprintID, entityID string, includeCalculated bool) (Entity, error) {
	var resp struct {
		Entity Entity `json:"entity"`
	}
	path := "/blueprints/" + url.PathEscape(blueprintID) + "/entities/" + url.PathEscape(entityID)
	err := c.do(ctx, endpointEntity, http.MethodGet, path, calculatedQuery(includeCalculated), nil, &resp)
	if err == nil && len(resp.Entity) == 0 {
		err = fmt.Errorf("entity %s: %w in response", entityID, ErrNotFound)
	}
	c.metrics.ObserveRequest(endpointEntity, err, ErrNotFound)
	if err != nil {
		return nil, err
	}
	return resp.Entity, nil
}

// Blueprints lists all blueprints. Errors are logged and yield an empty result.
func (c *Client) Blueprints(ctx context.Context) []Blueprint {
	c.logger.Info("Fetching blueprints")
	bps, err := c.FetchBlueprints(ctx)
	if err != nil {
		c.logger.Error("Failed to fetch blueprints", "error", err)
		return nil
	}
	c.logger.Info("Retrieved blueprints", "count", len(bps))
	return bps
}

// Entities lists the entities of a blueprint. Errors are logged and yield an empty result.
func (c *Client) Entities(ctx context.Context, blueprintID string, includeCalculated bool) []Entity {
	c.logger.Info("Fetching entities", "blueprint", blueprintID)
	es, err := c.FetchEntities(ctx, blueprintID, includeCalculated)
	if err != nil {
		c.logger.Error("Failed to fetch entities", "blueprint", blueprintID, "error", err)
		return nil
	}
	c.logger.Info("Retrieved entities", "blueprint", blueprintID, "count", len(es))
	return es
}

// Entity fetches a single entity. Not-found and all other errors are logged
// and reported identically as (nil, false); use FetchEntity to tell them apart.
func (c *Client) Entity(ctx context.Context, blueprintID, entityID string, includeCalculated bool) (Entity, bool) {
	c.logger.Info("Fetching entity", "blueprint", blueprintID, "entity", entityID)
	e, err := c.FetchEntity(ctx, blueprintID, entityID, includeCalculated)
	if errors.Is(err, ErrNotFound) {
		c.logger.Warn("Entity not found", "blueprint", blueprintID, "entity", entityID)
		return nil, false
	}
	if err != nil {
		c.logger.Error("Failed to fetch entity", "blueprint", blueprintID, "entity", entityID, "error", err)
		return nil, false
	}
	c.logger.Debug("Retrieved entity", "blueprint", blueprintID, "entity", entityID)
	return e, true
}

// do sends a JSON request and decodes a 2xx JSON response into out.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		bodyReader = bytes.NewReader(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("Sending request", "method", method, "url", u)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: truncateBody(string(data), maxErrorBody)}
	}
	// Numbers are kept as json.Number so that they are re-serialized verbatim.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%s: invalid JSON response: %w", op, err)
	}
	return nil
}

// truncateBody trims s and cuts it to at most n bytes without splitting a
// UTF-8 sequence. Invalid sequences are replaced.
func truncateBody(s string, n int) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "\uFFFD")
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
