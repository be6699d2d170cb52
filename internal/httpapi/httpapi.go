// Package httpapi is the HTTP transport for the verb dispatcher (spec §6):
// a single verb endpoint, an SSE event stream, and stats/status endpoints,
// grounded in the Echo server idiom used elsewhere in the ecosystem
// (middleware stack, graceful shutdown, custom error handler) since the
// teacher repo itself speaks only the in-process RPC protocol.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/memogarden/memogarden/internal/audit"
	"github.com/memogarden/memogarden/internal/txn"
	"github.com/memogarden/memogarden/internal/verb"
	"github.com/memogarden/memogarden/internal/verrs"
)

// Config controls server construction.
type Config struct {
	Addr           string
	BodyLimit      string
	AllowedOrigins []string
	APIKey         string // empty disables the API-key check
	DBPath         string // sqlite file backing both the Fact and Entity stores, reported on /status
}

func DefaultConfig() Config {
	return Config{Addr: ":7420", BodyLimit: "2M", AllowedOrigins: []string{"*"}}
}

// Server wires the Auditor and Coordinator behind an Echo instance.
type Server struct {
	echo    *echo.Echo
	cfg     Config
	auditor *audit.Auditor
	bus     *audit.Bus
	coord   *txn.Coordinator
	log     *zap.Logger
	conns   *connTracker
}

func New(cfg Config, auditor *audit.Auditor, bus *audit.Bus, coord *txn.Coordinator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))
	e.Use(middleware.RequestID())

	s := &Server{echo: e, cfg: cfg, auditor: auditor, bus: bus, coord: coord, log: log, conns: newConnTracker()}
	e.HTTPErrorHandler = s.errorHandler

	if cfg.APIKey != "" {
		e.Use(s.apiKeyMiddleware)
	}
	e.Use(s.protocolVersionMiddleware)

	e.POST("/v1/verb", s.handleVerb)
	e.GET("/v1/events", s.handleEvents)
	e.GET("/v1/stats", s.handleStats)
	e.GET("/v1/status", s.handleStatus)
	e.GET("/healthz", s.handleHealth)

	return s
}

func (s *Server) apiKeyMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get("X-API-Key") != s.cfg.APIKey {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing API key")
		}
		return next(c)
	}
}

// Start runs the server until ctx is cancelled, then shuts it down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.cfg.Addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleVerb decodes a verb.Request, dispatches it through the Auditor, and
// writes the verb.Response envelope. HTTP status mirrors the envelope's
// machine error code so a caller that only looks at the status code still
// gets a meaningful signal.
func (s *Server) handleVerb(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	req, err := verb.DecodeRequest(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, verb.Response{
			OK: false, Timestamp: time.Now().UTC(),
			Error: &verb.WireError{Code: string(verrs.ValidationError), Message: err.Error()},
		})
	}
	req.Actor = actorFrom(c)

	resp := s.auditor.Dispatch(c.Request().Context(), req)
	return c.JSON(statusForResponse(resp), resp)
}

func readBody(c echo.Context) ([]byte, error) {
	defer c.Request().Body.Close()
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return []byte("{}"), nil
	}
	return body, nil
}

func actorFrom(c echo.Context) string {
	if a := c.Request().Header.Get("X-Actor"); a != "" {
		return a
	}
	return "anonymous"
}

func statusForResponse(resp verb.Response) int {
	if resp.OK || resp.Error == nil {
		return http.StatusOK
	}
	switch verrs.Code(resp.Error.Code) {
	case verrs.ValidationError:
		return http.StatusBadRequest
	case verrs.NotFound:
		return http.StatusNotFound
	case verrs.LockConflict:
		return http.StatusConflict
	case verrs.PermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		_ = c.JSON(code, verb.Response{
			OK: false, Timestamp: time.Now().UTC(),
			Error: &verb.WireError{Code: string(verrs.InternalError), Message: msg},
		})
	}
}
