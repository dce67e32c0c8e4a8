package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/reqfilter"
	"github.com/AdguardTeam/reqfilter/rules"
)

// maxBodySize is the maximum size of a request body.
const maxBodySize = 4 * 1024 * 1024

// commandResponse is the response to a command.
type commandResponse struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// toggleRequest is the body of the toggle command.
type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// requestEvent is the body of the request event.
type requestEvent struct {
	URL string `json:"url"`
}

// requestDecision is the response to the request event.
type requestDecision struct {
	Decision string `json:"decision"`
	Block    bool   `json:"block"`
}

// handleGetStats is the handler for the GET /stats HTTP API.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.filter.Stats())
}

// handleClearStats is the handler for the POST /stats/clear HTTP API.
func (s *Server) handleClearStats(w http.ResponseWriter, r *http.Request) {
	s.filter.ClearStats(r.Context())

	s.writeJSON(w, r, http.StatusOK, &commandResponse{Success: true})
}

// handleGetRules is the handler for the GET /rules HTTP API.
func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	data := s.filter.RulesText()
	if data == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, reqfilter.ErrEngineNotReady)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_, err := w.Write(data)
	if err != nil {
		s.logger.DebugContext(r.Context(), "writing rules", slogutil.KeyError, err)
	}
}

// handleSetRules is the handler for the POST /rules HTTP API.  The body is the
// raw rule configuration.
func (s *Server) handleSetRules(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("reading body: %w", err))

		return
	}

	err = s.filter.UpdateRules(r.Context(), data)
	switch {
	case err == nil:
		s.writeJSON(w, r, http.StatusOK, &commandResponse{Success: true})
	case errors.Is(err, reqfilter.ErrEngineNotReady):
		s.writeError(w, r, http.StatusServiceUnavailable, err)
	case rules.IsCompileError(err):
		s.writeError(w, r, http.StatusBadRequest, err)
	default:
		s.writeError(w, r, http.StatusInternalServerError, err)
	}
}

// handleToggle is the handler for the POST /toggle HTTP API.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	req := &toggleRequest{}
	err := decodeBody(w, r, req)
	if err == nil && req.Enabled == nil {
		err = errors.Error("no enabled field")
	}

	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)

		return
	}

	s.filter.SetEnabled(r.Context(), *req.Enabled)

	s.writeJSON(w, r, http.StatusOK, &commandResponse{
		Enabled: req.Enabled,
		Success: true,
	})
}

// handleRequest is the handler for the POST /request HTTP API.  It lets hosts
// that aren't proxies deliver request events.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	req := &requestEvent{}
	err := decodeBody(w, r, req)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)

		return
	}

	d := s.filter.HandleRequest(req.URL)

	s.writeJSON(w, r, http.StatusOK, &requestDecision{
		Decision: d.String(),
		Block:    d == reqfilter.DecisionBlock,
	})
}

// decodeBody decodes the JSON body of r into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) (err error) {
	err = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
	if err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}

	return nil
}

// writeJSON writes v as a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.logger.DebugContext(r.Context(), "writing response", slogutil.KeyError, err)
	}
}

// writeError writes a failed command response with err as the reason.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	s.logger.InfoContext(r.Context(), "command failed", "path", r.URL.Path, slogutil.KeyError, err)

	s.writeJSON(w, r, code, &commandResponse{Error: err.Error()})
}
