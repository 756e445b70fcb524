// Package rest implements the engine.Backend for hosted PostgreSQL table APIs
// that expose an execute_sql RPC next to a PostgREST schema endpoint.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aquaform/aquaform/pkg/backends/sqldb"
	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config is the connection configuration of the REST backend.
type Config struct {
	// URL is the project base URL, without the /rest/v1 suffix.
	URL string `koanf:"url" validate:"required,url"`

	// Key is the service key sent as apikey and bearer token.
	Key string `koanf:"key" validate:"required"`

	// Timeout bounds each HTTP request. Zero means 30s.
	Timeout time.Duration `koanf:"timeout"`
}

// maxResponseBody caps how much of a response body is read.
const maxResponseBody = 64 << 10

// Client talks to the table API. DDL is rendered by the PostgreSQL dialect.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
	dialect sqldb.Postgres
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, e.g. for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a client for cfg.
func New(cfg Config, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, errors.New("rest backend requires url and key")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.Key,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "rest").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Kind implements engine.Backend.
func (c *Client) Kind() schema.Kind { return schema.KindRESTTable }

// Capabilities implements engine.Backend.
func (c *Client) Capabilities() engine.Capabilities { return DefaultCapabilities() }

// DefaultCapabilities is what every REST endpoint supports. Modifiers are
// not supported.
func DefaultCapabilities() engine.Capabilities {
	return engine.Capabilities{DeferredForeignKeys: true}
}

// Preview renders action with the endpoint's dialect without a client.
func Preview(action *engine.Action) ([]string, error) {
	return sqldb.Statements(sqldb.Postgres{}, action)
}

// Statements renders action without running it.
func (c *Client) Statements(action *engine.Action) ([]string, error) {
	return sqldb.Statements(c.dialect, action)
}

// Execute implements engine.Backend. Each statement is one RPC call.
func (c *Client) Execute(ctx context.Context, action *engine.Action) (*engine.ActionResult, error) {
	start := time.Now()
	stmts, err := sqldb.Statements(c.dialect, action)
	if err != nil {
		return nil, err
	}

	for _, stmt := range stmts {
		c.logger.Debug().
			Str("resource", action.Resource).
			Str("type", string(action.Type)).
			Str("sql", stmt).
			Msg("Executing statement")
		if err := c.executeSQL(ctx, stmt); err != nil {
			var ee *engine.EngineError
			if errors.As(err, &ee) {
				ee.WithResource(action.Resource).WithOperation(string(action.Type)).WithDetail("statement", stmt)
			}
			return nil, err
		}
	}

	return &engine.ActionResult{Statements: stmts, Duration: time.Since(start)}, nil
}

type executeRequest struct {
	Command string `json:"command"`
}

// executeResponse is the execute_sql result. Only failures carry fields.
type executeResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func (c *Client) executeSQL(ctx context.Context, stmt string) error {
	body, err := json.Marshal(executeRequest{Command: stmt})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/v1/rpc/execute_sql", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return transportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}

	var result executeResponse
	if len(bytes.TrimSpace(data)) == 0 || json.Unmarshal(data, &result) != nil {
		// Any non-object 2xx body counts as success.
		return nil
	}
	if result.Success != nil && !*result.Success {
		msg := result.Error
		if msg == "" {
			msg = "unknown error"
		}
		return engine.NewBackendError(classifyMessage(result.Code, msg), "execute_sql failed: "+msg, nil)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
}

// Describe implements engine.Backend by reading the OpenAPI document the
// schema endpoint serves.
func (c *Client) Describe(ctx context.Context, name string) (*engine.Description, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rest/v1/", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/openapi+json, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		return nil, statusError(resp.StatusCode, data)
	}

	var doc openAPIDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, engine.NewBackendError(engine.ErrCodeInternal, "failed to decode schema document", err)
	}

	t, ok := doc.table(name)
	if !ok {
		return nil, engine.NewBackendError(engine.ErrCodeNotFound, "table does not exist", nil).WithResource(name)
	}
	return &engine.Description{Name: name, LiveName: "public." + name, Table: t}, nil
}

// Close implements engine.Backend.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
