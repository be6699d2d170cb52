package httpapi

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memogarden/memogarden/internal/audit"
)

const sseKeepalive = 15 * time.Second

// connTracker records currently-open SSE connections for the stats endpoint.
type connTracker struct {
	mu    sync.Mutex
	conns map[int]connInfo
}

type connInfo struct {
	ClientID   int      `json:"client_id"`
	Username   string   `json:"username"`
	ScopeCount int      `json:"scope_count"`
}

func newConnTracker() *connTracker {
	return &connTracker{conns: make(map[int]connInfo)}
}

func (t *connTracker) add(id int, username string, scopes []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[id] = connInfo{ClientID: id, Username: username, ScopeCount: len(scopes)}
}

func (t *connTracker) remove(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, id)
}

func (t *connTracker) snapshot() []connInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]connInfo, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	return out
}

// handleEvents streams audit.Bus events as Server-Sent Events, optionally
// filtered by a comma-separated `scopes` query parameter. A comment frame
// (`: keepalive`) is sent periodically so intermediaries don't time out an
// idle connection.
func (s *Server) handleEvents(c echo.Context) error {
	var scopes []string
	if raw := c.QueryParam("scopes"); raw != "" {
		scopes = strings.Split(raw, ",")
	}

	id, ch := s.bus.Subscribe(scopes)
	s.conns.add(id, actorFrom(c), scopes)
	defer func() {
		s.bus.Unsubscribe(id)
		s.conns.remove(id)
	}()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			frame, err := audit.FormatSSE(evt)
			if err != nil {
				continue
			}
			if _, err := res.Write(frame); err != nil {
				return nil
			}
			res.Flush()
		case <-ticker.C:
			if _, err := res.Write([]byte(": keepalive\n\n")); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

type statsResponse struct {
	ActiveConnections int        `json:"active_connections"`
	DroppedEvents     int64      `json:"dropped_events"`
	Connections       []connInfo `json:"connections"`
}

func (s *Server) handleStats(c echo.Context) error {
	conns := s.conns.snapshot()
	return c.JSON(http.StatusOK, statsResponse{
		ActiveConnections: len(conns),
		DroppedEvents:     s.bus.DroppedCount(),
		Connections:       conns,
	})
}

type databasesInfo struct {
	Fact   string            `json:"fact"`
	Entity string            `json:"entity"`
	Paths  map[string]string `json:"paths"`
}

type consistencyInfo struct {
	Status string `json:"status"`
}

type statusResponse struct {
	Status      string        `json:"status"`
	Version     string        `json:"version"`
	Databases   databasesInfo `json:"databases"`
	Consistency any           `json:"consistency"`
}

func (s *Server) handleStatus(c echo.Context) error {
	report := s.coord.CheckConsistency(c.Request().Context())

	connected := "connected"
	if s.cfg.DBPath != "" {
		if _, err := os.Stat(s.cfg.DBPath); err != nil {
			connected = "missing"
		}
	}

	return c.JSON(http.StatusOK, statusResponse{
		Status:  string(report.Status),
		Version: ProtocolVersion,
		Databases: databasesInfo{
			Fact:   connected,
			Entity: connected,
			Paths:  map[string]string{"fact": s.cfg.DBPath, "entity": s.cfg.DBPath},
		},
		Consistency: consistencyInfo{Status: string(report.Status)},
	})
}
