package handler // declare the package name; contains HTTP handlers

import (
    "context"
    "net/http" // net/http provides status codes and response helpers

    "github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Prober checks that the database answers.  *database.Pool satisfies it.
type Prober interface {
    Probe(ctx context.Context) error
}

// Health returns a health-check handler for load balancers and monitoring.
// It round-trips a ping through the pool and answers "ok" with 200, or a
// JSON error with 503 when the database cannot be reached.
func Health(p Prober) echo.HandlerFunc {
    return func(c echo.Context) error {
        if err := p.Probe(c.Request().Context()); err != nil {
            return c.JSON(http.StatusServiceUnavailable, echo.Map{
                "error":   "database_unavailable",
                "message": err.Error(),
            })
        }
        return c.String(http.StatusOK, "ok")
    }
}
