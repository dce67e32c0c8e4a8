package proxy

import (
	"net/http"

	"github.com/AdguardTeam/reqfilter"
	"github.com/AdguardTeam/reqfilter/rules"
)

// Session contains the data of a single proxied request.  It's created when the
// request headers are received and is kept until the response is received.
type Session struct {
	// ID is the session identifier.
	ID string

	// Request is the request data.
	Request *rules.Request

	// HTTPRequest is the HTTP request data.
	HTTPRequest *http.Request

	// Decision is the filtering decision for the request.
	Decision reqfilter.Decision
}

// NewSession creates a new instance of the Session struct and initializes it.
// id is the unique session identifier, req is the HTTP request data.
func NewSession(id string, req *http.Request) (s *Session) {
	return &Session{
		ID:          id,
		Request:     rules.NewRequest(req.URL.String()),
		HTTPRequest: req,
	}
}
