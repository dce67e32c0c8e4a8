// Package httpapi contains the HTTP command channel of the request filter.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/reqfilter"
	"github.com/klauspost/compress/gzhttp"
)

// Filter is the request filter controlled by the API.
type Filter interface {
	// HandleRequest returns the decision for the request to urlStr.
	HandleRequest(urlStr string) (d reqfilter.Decision)

	// UpdateRules replaces the active rule configuration with data.
	UpdateRules(ctx context.Context, data []byte) (err error)

	// SetEnabled enables or disables the filtering.
	SetEnabled(ctx context.Context, enabled bool)

	// ClearStats resets the counters.
	ClearStats(ctx context.Context)

	// Stats returns the current statistics and settings.
	Stats() (st *reqfilter.Stats)

	// RulesText returns the raw active rule configuration.
	RulesText() (data []byte)
}

// type check
var _ Filter = (*reqfilter.Pipeline)(nil)

// Config is the configuration of the API server.
type Config struct {
	// Logger is used to log the operation of the server.  It must not be nil.
	Logger *slog.Logger

	// Filter is the controlled request filter.  It must not be nil.
	Filter Filter

	// Addr is the address to listen on.
	Addr string

	// Timeout is the read and write timeout of the HTTP server.  If zero, 30
	// seconds are used.
	Timeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	logger   *slog.Logger
	filter   Filter
	handler  http.Handler
	http     *http.Server
	listener net.Listener
	addr     string
}

// New returns a new properly initialized *Server.  c must not be nil.
func New(c *Config) (s *Server) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	s = &Server{
		logger: c.Logger,
		filter: c.Filter,
		addr:   c.Addr,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stats", s.handleGetStats)
	mux.HandleFunc("POST /stats/clear", s.handleClearStats)
	mux.HandleFunc("GET /rules", s.handleGetRules)
	mux.HandleFunc("POST /rules", s.handleSetRules)
	mux.HandleFunc("POST /toggle", s.handleToggle)
	mux.HandleFunc("POST /request", s.handleRequest)

	s.handler = s.withRequestID(gzhttp.GzipHandler(mux))
	s.http = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
		ErrorLog:          slog.NewLogLogger(c.Logger.Handler(), slog.LevelDebug),
	}

	return s
}

// type check
var _ service.Interface = (*Server)(nil)

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() (h http.Handler) {
	return s.handler
}

// Start implements the [service.Interface] interface for *Server.
func (s *Server) Start(ctx context.Context) (err error) {
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", s.addr, err)
	}

	s.logger.InfoContext(ctx, "api started", "addr", s.listener.Addr())

	go s.serve()

	return nil
}

// serve serves the API until the server is shut down.  It is intended to be
// used as a goroutine.
func (s *Server) serve() {
	defer slogutil.RecoverAndLog(context.Background(), s.logger)

	err := s.http.Serve(s.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("serving api", slogutil.KeyError, err)
	}
}

// Shutdown implements the [service.Interface] interface for *Server.
func (s *Server) Shutdown(ctx context.Context) (err error) {
	err = s.http.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutting down api: %w", err)
	}

	s.logger.InfoContext(ctx, "api stopped")

	return nil
}
