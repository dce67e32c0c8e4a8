package httpapi

import (
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/gofrs/uuid/v5"
)

// headerRequestID is the header containing the request identifier.
const headerRequestID = "X-Request-Id"

// statusWriter remembers the status code of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
}

// Unwrap returns the underlying writer for [http.ResponseController].
func (w *statusWriter) Unwrap() (rw http.ResponseWriter) {
	return w.ResponseWriter
}

// WriteHeader implements the [http.ResponseWriter] interface for
// *statusWriter.
func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withRequestID assigns an identifier to each request and logs its outcome.
func (s *Server) withRequestID(next http.Handler) (h http.Handler) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id, err := uuid.NewV7()
		if err != nil {
			s.logger.ErrorContext(r.Context(), "generating request id", slogutil.KeyError, err)
		}

		w.Header().Set(headerRequestID, id.String())

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		s.logger.DebugContext(
			r.Context(),
			"api request",
			"id", id.String(),
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"elapsed", time.Since(start),
		)
	})
}
