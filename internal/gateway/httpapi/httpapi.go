// Package httpapi implements the HTTP API gateway for sanduku.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-client rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/sanduku/internal/confine"
	"github.com/jkaninda/sanduku/internal/edit"
	"github.com/jkaninda/sanduku/internal/fsops"
	"github.com/jkaninda/sanduku/internal/observability"
	"github.com/jkaninda/sanduku/internal/ratelimit"
	"github.com/jkaninda/sanduku/internal/runner"
	"github.com/jkaninda/sanduku/internal/stream"
	"github.com/jkaninda/sanduku/internal/tools"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        []string // Accepted API keys. Empty = no auth (local use).
	MaxRequestSize int64    // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	registry *tools.Registry
	streams  *stream.Engine // nil = streaming endpoints disabled.
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server
	okapi    *okapi.Okapi
	group    *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, reg *tools.Registry, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:   cfg,
		registry: reg,
		limiter:  rl,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithStreaming attaches the tail/watch engine and enables the SSE endpoints.
func (g *Gateway) WithStreaming(engine *stream.Engine) *Gateway {
	g.streams = engine
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Sanduku",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Tool endpoints.
	g.group.Get("/tools", g.handleToolList,
		okapi.DocSummary("List available tools with their schemas"),
		okapi.DocTags("Tools"),
		okapi.DocResponse([]ToolInfo{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Post("/tools/{name}", g.handleToolExecute,
		okapi.DocSummary("Execute a tool by name"),
		okapi.DocTags("Tools"),
		okapi.DocPathParam("name", "string", "Tool name, e.g. fs_read"),
		okapi.DocRequestBody(ExecuteRequest{}),
		okapi.DocResponse(ExecuteResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)

	// SSE streaming endpoints.
	if g.streams != nil {
		g.group.Get("/stream/tail", g.handleStreamTail,
			okapi.DocSummary("Follow appended lines of a file via SSE (path query param)"),
			okapi.DocTags("Streaming"),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Get("/stream/watch", g.handleStreamWatch,
			okapi.DocSummary("Watch a file or directory for changes via SSE (path query param)"),
			okapi.DocTags("Streaming"),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE endpoints hold the connection open.
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// ToolInfo describes one registered tool in GET /v1/tools.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ReadOnly    bool           `json:"read_only"`
	InputSchema map[string]any `json:"input_schema"`
}

func (g *Gateway) handleToolList(c *okapi.Context) error {
	all := g.registry.All()
	resp := make([]ToolInfo, len(all))
	for i, t := range all {
		resp[i] = ToolInfo{
			Name:        t.Name(),
			Description: t.Description(),
			ReadOnly:    t.ReadOnly(),
			InputSchema: t.InputSchema(),
		}
	}
	return c.OK(resp)
}

// ExecuteRequest is the JSON body for POST /v1/tools/{name}.
type ExecuteRequest struct {
	Params map[string]any `json:"params"`
}

// ExecuteResponse is the JSON response for POST /v1/tools/{name}.
type ExecuteResponse struct {
	Output        string         `json:"output"`
	Success       bool           `json:"success"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CorrelationID string         `json:"correlation_id"`
}

func (g *Gateway) handleToolExecute(c *okapi.Context) error {
	clientID := c.GetString("clientID")

	if g.limiter != nil {
		if err := g.limiter.Allow(clientID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	name := c.Param("name")
	tool := g.registry.Get(name)
	if tool == nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "unknown tool " + name})
	}

	maxSize := g.config.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	c.Request().Body = http.MaxBytesReader(nil, c.Request().Body, maxSize)

	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	if err := tool.Validate(req.Params); err != nil {
		return c.JSON(http.StatusBadRequest, okapi.M{"error": err.Error()})
	}

	correlationID := newCorrelationID()
	ctx := tools.ContextWithRequestID(c.Context(), correlationID)

	g.logger.Info("http tool request",
		slog.String("tool", name),
		slog.String("client_id", clientID),
		slog.String("correlation_id", correlationID),
	)

	res, err := tool.Execute(ctx, req.Params)
	if err != nil {
		return toolError(c, correlationID, err)
	}

	return c.OK(ExecuteResponse{
		Output:        res.Output,
		Success:       res.Success,
		Metadata:      res.Metadata,
		CorrelationID: correlationID,
	})
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the Bearer API key. When no keys are configured
// the gateway is open and the client is identified by remote address.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("clientID", remoteHost(c.Request()))
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		matched := -1
		for i, key := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				matched = i
			}
		}
		if matched < 0 {
			return c.AbortUnauthorized("invalid API key")
		}
		// Identify clients by key fingerprint, never by the key itself.
		c.Set("clientID", keyFingerprint(g.config.APIKeys[matched]))
		return next(c)
	}
}

// --- Helpers ---

// toolError maps tool execution errors to appropriate HTTP responses.
func toolError(c *okapi.Context, correlationID string, err error) error {
	switch {
	case errors.Is(err, confine.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, okapi.M{"error": err.Error(), "correlation_id": correlationID})
	case errors.Is(err, runner.ErrCommandBlocked):
		return c.JSON(http.StatusForbidden, okapi.M{"error": err.Error(), "correlation_id": correlationID})
	case errors.Is(err, fsops.ErrNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": err.Error(), "correlation_id": correlationID})
	case errors.Is(err, fsops.ErrExists):
		return c.JSON(http.StatusConflict, okapi.M{"error": err.Error(), "correlation_id": correlationID})
	case errors.Is(err, fsops.ErrIsDirectory),
		errors.Is(err, fsops.ErrNotADirectory),
		errors.Is(err, fsops.ErrTooLarge),
		errors.Is(err, edit.ErrEmptyOldText):
		return c.JSON(http.StatusBadRequest, okapi.M{"error": err.Error(), "correlation_id": correlationID})
	}
	var notFound *edit.TextNotFoundError
	if errors.As(err, &notFound) {
		return c.JSON(http.StatusBadRequest, okapi.M{"error": err.Error(), "correlation_id": correlationID})
	}
	return c.AbortInternalServerError("tool execution failed")
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// keyFingerprint returns a short non-reversible identifier for an API key.
func keyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "key-" + hex.EncodeToString(sum[:8])
}

// remoteHost returns the client host without the port.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
