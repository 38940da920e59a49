package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type nodeGroup struct {
	s *Server
}

type moveRequest struct {
	Name   string `json:"name"`
	Parent *int64 `json:"parent"`
}

func registerNodeRoutes(g *echo.Group, s *Server) *nodeGroup {
	group := &nodeGroup{s: s}

	g.PATCH("/nodes/:id", WithRole(s.users, group.RenameOrMove))

	return group
}

// RenameOrMove sets a node's name and parent. Both are always applied: a
// null parent moves the node to the owner root.
func (g *nodeGroup) RenameOrMove(c *AuthContext) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req moveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	node, err := g.s.drive.RenameOrMove(c.Request().Context(), c.Identity, id, req.Name, req.Parent)
	if err != nil {
		return g.s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, node)
}
