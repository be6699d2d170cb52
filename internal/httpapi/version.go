package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/mod/semver"
)

// ProtocolVersion is the daemon's wire protocol version, compared against a
// client's X-Protocol-Version header the way the teacher's RPC server
// gates clients on ServerVersion: a major mismatch is refused outright, a
// client newer than the daemon is refused so it can't exercise fields the
// daemon's handlers don't know about yet.
const ProtocolVersion = "1.0.0"

func normalizeSemver(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}

// checkProtocolVersion reports whether clientVersion (with or without a
// leading "v"; both versions are normalized here) may talk to this daemon. An empty clientVersion is always
// allowed, matching older clients that predate the header.
func checkProtocolVersion(clientVersion string) (ok bool, reason string) {
	if clientVersion == "" {
		return true, ""
	}
	server := normalizeSemver(ProtocolVersion)
	client := normalizeSemver(clientVersion)
	if !semver.IsValid(server) || !semver.IsValid(client) {
		return true, ""
	}
	if semver.Major(server) != semver.Major(client) {
		return false, "incompatible protocol major version: client " + clientVersion + ", daemon " + ProtocolVersion
	}
	if semver.Compare(server, client) < 0 {
		return false, "daemon protocol " + ProtocolVersion + " is older than client " + clientVersion
	}
	return true, ""
}

func (s *Server) protocolVersionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ok, reason := checkProtocolVersion(c.Request().Header.Get("X-Protocol-Version"))
		if !ok {
			return echo.NewHTTPError(http.StatusUpgradeRequired, reason)
		}
		return next(c)
	}
}
