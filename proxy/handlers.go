package proxy

import (
	"fmt"
	"net/http"

	"github.com/AdguardTeam/gomitmproxy"
	"github.com/AdguardTeam/reqfilter"
)

// onRequest handles the outgoing HTTP requests.
func (s *Server) onRequest(sess *gomitmproxy.Session) (req *http.Request, resp *http.Response) {
	r := sess.Request()
	if r.Method == http.MethodConnect {
		// Do nothing for CONNECT requests, the tunneled requests are handled
		// separately.
		return nil, nil
	}

	session := NewSession(sess.ID(), r)
	sess.SetProp(sessionPropKey, session)

	session.Decision = s.handler.HandleRequest(session.Request.URL)
	if session.Decision != reqfilter.DecisionBlock {
		return r, nil
	}

	s.logger.Debug("blocked", "id", session.ID, "url", session.Request.URL)

	return nil, newBlockedResponse(s.logger, session)
}

// onResponse handles the responses.  Responses are never modified, this only
// logs the outcome of allowed requests.
func (s *Server) onResponse(sess *gomitmproxy.Session) (resp *http.Response) {
	v, ok := sess.GetProp(sessionPropKey)
	if !ok {
		return nil
	}

	session, ok := v.(*Session)
	if !ok {
		s.logger.Error("bad session property", "id", sess.ID(), "type", fmt.Sprintf("%T", v))

		return nil
	}

	if session.Decision == reqfilter.DecisionBlock {
		return nil
	}

	res := sess.Response()
	if res != nil {
		s.logger.Debug("allowed", "id", session.ID, "url", session.Request.URL, "status", res.StatusCode)
	}

	return nil
}
