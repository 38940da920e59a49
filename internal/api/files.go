package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"
)

type fileGroup struct {
	s *Server
}

func registerFileRoutes(g *echo.Group, s *Server) *fileGroup {
	group := &fileGroup{s: s}

	g.GET("/files", WithRole(s.users, group.ListFiles))
	g.POST("/files", WithRole(s.users, group.UploadFile))
	g.DELETE("/files/:id", WithRole(s.users, group.DeleteFile))
	g.GET("/files/:id/download", WithRole(s.users, group.DownloadFile))
	g.GET("/files/:id/read", WithRole(s.users, group.ReadFile))

	return group
}

func (g *fileGroup) ListFiles(c *AuthContext) error {
	folder, err := parseParent(c.QueryParam("folder"))
	if err != nil {
		return err
	}
	files, err := g.s.drive.ListFiles(c.Request().Context(), c.Identity, folder)
	if err != nil {
		return g.s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, files)
}

// UploadFile streams the "file" part of a multipart body straight into the
// drive. The target folder comes from a "folder" part sent before the file,
// or from the folder query parameter.
func (g *fileGroup) UploadFile(c *AuthContext) error {
	folder, err := parseParent(c.QueryParam("folder"))
	if err != nil {
		return err
	}

	reader, err := c.Request().MultipartReader()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expected multipart/form-data")
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return echo.NewHTTPError(http.StatusBadRequest, "missing file part")
		}
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "malformed multipart body")
		}

		switch part.FormName() {
		case "folder":
			raw, err := io.ReadAll(io.LimitReader(part, 32))
			part.Close()
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "malformed folder field")
			}
			if folder, err = parseParent(string(raw)); err != nil {
				return err
			}
		case "file":
			defer part.Close()
			if part.FileName() == "" {
				return echo.NewHTTPError(http.StatusBadRequest, "file part has no file name")
			}
			file, err := g.s.drive.UploadFile(c.Request().Context(), c.Identity, part.FileName(), part, folder)
			if err != nil {
				return g.s.httpError(c, err)
			}
			return c.JSON(http.StatusCreated, file)
		default:
			part.Close()
		}
	}
}

func (g *fileGroup) DeleteFile(c *AuthContext) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := g.s.drive.DeleteFile(c.Request().Context(), c.Identity, id); err != nil {
		return g.s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (g *fileGroup) DownloadFile(c *AuthContext) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	dl, err := g.s.drive.DownloadFile(c.Request().Context(), c.Identity, id)
	if err != nil {
		return g.s.httpError(c, err)
	}
	defer dl.Body.Close()

	contentType := mime.TypeByExtension(filepath.Ext(dl.Name))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	h := c.Response().Header()
	h.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": dl.Name}))
	h.Set(echo.HeaderContentLength, strconv.FormatInt(dl.Size, 10))
	h.Set(echo.HeaderLastModified, dl.ModTime.UTC().Format(http.TimeFormat))
	return c.Stream(http.StatusOK, contentType, dl.Body)
}

// ReadFile returns a text file inline as JSON. The optional limit query
// parameter caps the accepted size in bytes.
func (g *fileGroup) ReadFile(c *AuthContext) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var limit int64
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.ParseInt(raw, 10, 64); err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}
	text, err := g.s.drive.ReadText(c.Request().Context(), c.Identity, id, limit)
	if err != nil {
		return g.s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, text)
}
