package router // package router defines how HTTP routes are registered

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/leisure-shows/internal/handler" // handlers for the show pages and health check
)

// Pages holds the middleware chain of each show page.
type Pages struct {
	List   []echo.MiddlewareFunc // GET /
	Detail []echo.MiddlewareFunc // GET /results/:tvid
}

// RegisterRoutes maps the health check and the two show pages.  The health
// check gets no page middleware, so it is never cached or throttled.
func RegisterRoutes(e *echo.Echo, h *handler.ShowHandler, health echo.HandlerFunc, mw Pages) {
	// Load balancers and monitoring poll /healthz.
	e.GET("/healthz", health)

	e.GET("/", h.List, mw.List...)
	e.GET("/results/:tvid", h.Detail, mw.Detail...)
}
