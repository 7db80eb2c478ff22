// Package app assembles the Echo server and runs it: probe the database,
// listen, and shut down cleanly when the context ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	glog "github.com/labstack/gommon/log"

	"github.com/iliyamo/leisure-shows/internal/handler"
	"github.com/iliyamo/leisure-shows/internal/router"
	"github.com/iliyamo/leisure-shows/internal/view"
)

// Prober is the startup liveness check.  *database.Pool satisfies it.
type Prober interface {
	Probe(ctx context.Context) error
}

// Options controls NewEcho.
type Options struct {
	Debug bool         // log at debug level
	Pages router.Pages // middleware of the show pages
}

// PageChains puts the rate limit in front of the cache on both pages.  With
// viewEvents set the detail page is never cached, so every view reaches the
// handler and publishes its event.
func PageChains(limit, cache echo.MiddlewareFunc, viewEvents bool) router.Pages {
	pages := router.Pages{
		List:   []echo.MiddlewareFunc{limit, cache},
		Detail: []echo.MiddlewareFunc{limit, cache},
	}
	if viewEvents {
		pages.Detail = []echo.MiddlewareFunc{limit}
	}
	return pages
}

// NewEcho builds the Echo instance with the renderer, access logging,
// panic recovery and all routes registered.
func NewEcho(h *handler.ShowHandler, p Prober, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Renderer = view.MustNew()
	if opts.Debug {
		e.Logger.SetLevel(glog.DEBUG)
	} else {
		e.Logger.SetLevel(glog.INFO)
	}

	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			c.Logger().Infof("%s %s %d %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	router.RegisterRoutes(e, h, handler.Health(p), opts.Pages)
	return e
}

// Server probes the database before binding its port.
type Server struct {
	e       *echo.Echo
	p       Prober
	addr    string
	ready   chan struct{}
	stopped chan struct{}
	bound   net.Addr
}

// NewServer prepares e to listen on addr once p answers.
func NewServer(e *echo.Echo, p Prober, addr string) *Server {
	return &Server{e: e, p: p, addr: addr, ready: make(chan struct{}), stopped: make(chan struct{})}
}

// Go runs fn in its own goroutine once the port is bound.  fn never runs if
// the probe fails or ctx ends first.
func (s *Server) Go(ctx context.Context, fn func(context.Context)) {
	go func() {
		select {
		case <-s.ready:
			fn(ctx)
		case <-s.stopped:
		case <-ctx.Done():
		}
	}()
}

// Ready is closed once the port is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound address; it is nil until Ready is closed.
func (s *Server) Addr() net.Addr {
	select {
	case <-s.ready:
		return s.bound
	default:
		return nil
	}
}

// Run probes the database and, only if it answers, serves until ctx is
// done.  A failed probe is returned without binding the port.
func (s *Server) Run(ctx context.Context) error {
	defer close(s.stopped)
	log.Printf("Pinging database...")
	if err := s.p.Probe(ctx); err != nil {
		return fmt.Errorf("startup probe: %w", err)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.e.Listener = ln
	s.bound = ln.Addr()
	close(s.ready)

	errc := make(chan error, 1)
	go func() {
		errc <- s.e.Start("")
	}()
	log.Printf("Application started on port %s at %s", s.bound, time.Now().Format(time.RFC1123))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
