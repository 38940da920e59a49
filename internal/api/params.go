package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// parseParent reads an optional parent id. Empty and "null" mean the owner
// root.
func parseParent(raw string) (*int64, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid parent id")
	}
	return &id, nil
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}
