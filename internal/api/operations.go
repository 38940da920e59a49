package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	defaultOperationLimit = 50
	maxOperationLimit     = 1000
)

type operationGroup struct {
	s *Server
}

func registerOperationRoutes(g *echo.Group, s *Server) *operationGroup {
	group := &operationGroup{s: s}

	g.GET("/operations", WithRole(s.admins, group.ListOperations))

	return group
}

// ListOperations returns recent journal entries, newest first. An owner query
// parameter narrows the list to one tree.
func (g *operationGroup) ListOperations(c *AuthContext) error {
	limit := defaultOperationLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = min(n, maxOperationLimit)
	}
	ops, err := g.s.journal.ListOperations(c.Request().Context(), c.QueryParam("owner"), limit)
	if err != nil {
		return g.s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, ops)
}
