package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type folderGroup struct {
	s *Server
}

type createFolderRequest struct {
	Name   string `json:"name"`
	Parent *int64 `json:"parent"`
}

func registerFolderRoutes(g *echo.Group, s *Server) *folderGroup {
	group := &folderGroup{s: s}

	g.GET("/folders", WithRole(s.users, group.ListFolders))
	g.POST("/folders", WithRole(s.users, group.CreateFolder))
	g.DELETE("/folders/:id", WithRole(s.users, group.DeleteFolder))

	return group
}

func (g *folderGroup) ListFolders(c *AuthContext) error {
	parent, err := parseParent(c.QueryParam("parent"))
	if err != nil {
		return err
	}
	folders, err := g.s.drive.ListFolders(c.Request().Context(), c.Identity, parent)
	if err != nil {
		return g.s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, folders)
}

func (g *folderGroup) CreateFolder(c *AuthContext) error {
	var req createFolderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	folder, err := g.s.drive.CreateFolder(c.Request().Context(), c.Identity, req.Name, req.Parent)
	if err != nil {
		return g.s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, folder)
}

func (g *folderGroup) DeleteFolder(c *AuthContext) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := g.s.drive.DeleteFolder(c.Request().Context(), c.Identity, id); err != nil {
		return g.s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
