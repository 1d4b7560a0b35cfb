package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/sanduku/internal/confine"
	"github.com/jkaninda/sanduku/internal/fsops"
	"github.com/jkaninda/sanduku/internal/stream"
)

// handleStreamTail handles GET /v1/stream/tail?path=... with SSE responses.
// Each appended batch of lines is delivered as one event until the client
// disconnects.
func (g *Gateway) handleStreamTail(c *okapi.Context) error {
	return g.streamSession(c, "tail", g.streams.Tail)
}

// handleStreamWatch handles GET /v1/stream/watch?path=... with SSE responses.
func (g *Gateway) handleStreamWatch(c *okapi.Context) error {
	return g.streamSession(c, "watch", g.streams.Watch)
}

func (g *Gateway) streamSession(c *okapi.Context, kind string, open func(ctx context.Context, path string) (*stream.Session, error)) error {
	clientID := c.GetString("clientID")
	if g.limiter != nil {
		if err := g.limiter.Allow(clientID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	path := c.Request().URL.Query().Get("path")
	if path == "" {
		return c.AbortBadRequest("path query parameter is required")
	}

	ctx := c.Context()
	session, err := open(ctx, path)
	if err != nil {
		switch {
		case errors.Is(err, confine.ErrAccessDenied):
			return c.JSON(http.StatusForbidden, okapi.M{"error": err.Error()})
		case errors.Is(err, fsops.ErrNotFound), errors.Is(err, fsops.ErrIsDirectory):
			return c.AbortBadRequest(err.Error())
		}
		g.logger.Error("stream open failed",
			slog.String("kind", kind),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("stream failed")
	}
	defer session.Close()

	g.logger.Info("stream session started",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.String("session_id", session.ID),
		slog.String("client_id", clientID),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-session.Events:
			if !ok {
				c.SSEvent("end", okapi.M{"session_id": session.ID})
				return nil
			}
			c.SSEvent(ev.Type, ev)
		}
	}
}
