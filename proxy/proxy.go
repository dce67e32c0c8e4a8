// Package proxy implements a MITM proxy that asks a request handler whether
// each request must be blocked.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/gomitmproxy"
	"github.com/AdguardTeam/reqfilter"
)

// sessionPropKey is the key of the *Session property of a proxy session.
const sessionPropKey = "session"

// RequestHandler decides whether requests must be blocked.
type RequestHandler interface {
	// HandleRequest returns the decision for the request to urlStr.  It must
	// not block on I/O.
	HandleRequest(urlStr string) (d reqfilter.Decision)
}

// type check
var _ RequestHandler = (*reqfilter.Pipeline)(nil)

// Config contains the MITM proxy configuration.
type Config struct {
	// Logger is used to log the operation of the proxy.  It must not be nil.
	Logger *slog.Logger

	// Handler decides whether requests must be blocked.  It must not be nil.
	Handler RequestHandler

	// ProxyConfig is the configuration of the MITM proxy.  Its handler fields
	// are overwritten by the server.
	ProxyConfig gomitmproxy.Config
}

// logAttrs returns the description of the configuration for logging.
func (c *Config) logAttrs() (attrs []any) {
	pc := c.ProxyConfig
	attrs = []any{
		"mitm", pc.MITMConfig != nil,
		"https", pc.TLSConfig != nil,
		"auth", pc.Username != "",
	}

	if pc.ListenAddr != nil {
		attrs = append(attrs, "addr", pc.ListenAddr.String())
	}

	if pc.APIHost != "" {
		attrs = append(attrs, "api_host", pc.APIHost)
	}

	return attrs
}

// Server is the filtering MITM proxy server.
type Server struct {
	logger  *slog.Logger
	handler RequestHandler

	// proxy is the MITM proxy server instance.
	proxy *gomitmproxy.Proxy

	// createdAt is the time when the server was created.
	createdAt time.Time
}

// NewServer returns a new properly initialized *Server.  c must not be nil.
func NewServer(c *Config) (s *Server) {
	c.Logger.Info("initializing proxy server", c.logAttrs()...)

	s = &Server{
		logger:    c.Logger,
		handler:   c.Handler,
		createdAt: time.Now(),
	}

	pc := c.ProxyConfig
	pc.OnRequest = s.onRequest
	pc.OnResponse = s.onResponse
	s.proxy = gomitmproxy.NewProxy(pc)

	return s
}

// type check
var _ service.Interface = (*Server)(nil)

// Start implements the [service.Interface] interface for *Server.
func (s *Server) Start(_ context.Context) (err error) {
	err = s.proxy.Start()
	if err != nil {
		return fmt.Errorf("starting proxy: %w", err)
	}

	s.logger.Info("proxy started")

	return nil
}

// Shutdown implements the [service.Interface] interface for *Server.
func (s *Server) Shutdown(_ context.Context) (err error) {
	s.proxy.Close()

	s.logger.Info("proxy stopped", "uptime", time.Since(s.createdAt))

	return nil
}
