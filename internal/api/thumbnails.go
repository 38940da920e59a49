package api

import (
	"bytes"
	"errors"
	"io/fs"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"drive-go/internal/thumbnail"
)

type thumbnailGroup struct {
	s    *Server
	icon []byte
}

func registerThumbnailRoutes(g *echo.Group, s *Server) *thumbnailGroup {
	group := &thumbnailGroup{s: s}

	var buf bytes.Buffer
	if err := thumbnail.WriteDefaultIcon(&buf, s.opts.IconSize); err != nil {
		s.logger.Warn("default icon unavailable", "error", err)
	} else {
		group.icon = buf.Bytes()
	}

	g.GET("/thumbnails/:owner/:name", WithRole(s.users, group.GetThumbnail))
	g.GET("/static/default-icon.png", group.DefaultIcon)

	return group
}

// GetThumbnail serves a cached thumbnail. Callers may read their own
// thumbnails; admins may read anyone's.
func (g *thumbnailGroup) GetThumbnail(c *AuthContext) error {
	owner := c.Param("owner")
	if owner != c.Identity.OwnerID && !g.s.admins(c.Identity.Role) {
		return echo.NewHTTPError(http.StatusForbidden)
	}
	p, err := g.s.resolver.ResolveThumbnail(owner, c.Param("name"))
	if err != nil {
		return g.s.httpError(c, err)
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return g.s.httpError(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=300")
	return c.File(p)
}

func (g *thumbnailGroup) DefaultIcon(c echo.Context) error {
	if g.icon == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=86400")
	return c.Blob(http.StatusOK, "image/png", g.icon)
}
