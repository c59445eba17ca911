package handler

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthHandler reports process liveness and database reachability.
type HealthHandler struct {
	DB *sql.DB
}

func NewHealthHandler(db *sql.DB) *HealthHandler { return &HealthHandler{DB: db} }

func (h *HealthHandler) Health(c echo.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := h.DB.PingContext(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"status":    "unhealthy",
			"database":  "unreachable",
			"timestamp": now,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":    "ok",
		"database":  "ok",
		"timestamp": now,
	})
}
