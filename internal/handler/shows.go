// Package handler exposes the HTTP handlers for the show pages.  Handlers
// run one repository call per request and map the outcome to a rendered
// page, a 404 or a JSON error body.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/leisure-shows/internal/model"
	"github.com/iliyamo/leisure-shows/internal/queue"
	"github.com/iliyamo/leisure-shows/internal/repository"
	"github.com/iliyamo/leisure-shows/internal/view"
)

// ListLimit is the number of names shown on the index page.
const ListLimit = 10

// ViewPublisher receives an event each time a detail page is served.
type ViewPublisher interface {
	PublishShowViewed(ctx context.Context, ev queue.ShowViewedEvent) error
}

// ShowHandler serves the index and detail pages.
type ShowHandler struct {
	ShowRepo  *repository.ShowRepo // runs the two tv_shows statements
	Publisher ViewPublisher        // optional; nil disables view events
}

// NewShowHandler constructs a ShowHandler and panics if repo is nil.
func NewShowHandler(repo *repository.ShowRepo, pub ViewPublisher) *ShowHandler {
	if repo == nil {
		panic("nil repository passed to NewShowHandler")
	}
	return &ShowHandler{ShowRepo: repo, Publisher: pub}
}

// List handles GET /.  It renders the last ListLimit show names in
// descending order.
func (h *ShowHandler) List(c echo.Context) error {
	names, err := h.ShowRepo.ListNames(c.Request().Context(), ListLimit)
	if err != nil {
		return dbError(c, err)
	}
	c.Logger().Debugf("list: %d shows %v", len(names), names)
	return c.Render(http.StatusOK, view.PageIndex, view.IndexPage{TVNames: names})
}

// Detail handles GET /results/:tvid.  A tvid that is not an integer can
// never match a row and is reported as not found, like a missing one.
func (h *ShowHandler) Detail(c echo.Context) error {
	raw := c.Param("tvid")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return notFound(c, raw)
	}

	show, err := h.ShowRepo.GetByID(c.Request().Context(), id)
	if errors.Is(err, repository.ErrShowNotFound) {
		return notFound(c, raw)
	}
	if err != nil {
		return dbError(c, err)
	}

	noSite := show.OfficialSite == ""
	if noSite {
		c.Logger().Infof("show %d: no official site", id)
	}
	h.publishViewed(c, show)
	return c.Render(http.StatusOK, view.PageResult, view.ResultPage{TVDetails: *show, NoSite: noSite})
}

// publishViewed sends the event in the background so a slow or absent
// broker never delays the page.
func (h *ShowHandler) publishViewed(c echo.Context, show *model.TVShow) {
	if h.Publisher == nil {
		return
	}
	ev := queue.ShowViewedEvent{
		TVID:     show.ID,
		Name:     show.Name,
		ViewedAt: time.Now().UTC().Format(time.RFC3339),
	}
	logger := c.Logger()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Publisher.PublishShowViewed(ctx, ev); err != nil {
			logger.Warnf("publish show.viewed for %d: %v", ev.TVID, err)
		}
	}()
}

func notFound(c echo.Context, tvid string) error {
	return c.String(http.StatusNotFound, "Not found: "+tvid)
}

func dbError(c echo.Context, err error) error {
	c.Logger().Errorf("database error: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{
		"error":   "database_error",
		"message": err.Error(),
	})
}
