package proxy

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/gomitmproxy/proxyutil"
)

// blockedPageTmpl is the template of the page shown instead of a blocked
// resource.
var blockedPageTmpl = template.Must(template.New("blockedPage").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Request blocked</title>
</head>
<body>
<h1>Request blocked</h1>
<p>The request to <b>{{.Hostname}}</b> has been blocked.</p>
<p><code>{{.URL}}</code></p>
</body>
</html>
`))

// blockedPageParameters are the parameters of blockedPageTmpl.
type blockedPageParameters struct {
	Hostname string
	URL      string
}

// buildBlockedPage builds the blocked page content.
func buildBlockedPage(l *slog.Logger, session *Session) (page string) {
	params := blockedPageParameters{
		Hostname: session.Request.Hostname,
		URL:      session.Request.URL,
	}

	data := &bytes.Buffer{}
	err := blockedPageTmpl.Execute(data, params)
	if err != nil {
		l.Error("building blocked page", "id", session.ID, slogutil.KeyError, err)

		return ""
	}

	return data.String()
}

// newBlockedResponse creates an HTTP response for a blocked request.
func newBlockedResponse(l *slog.Logger, session *Session) (res *http.Response) {
	page := buildBlockedPage(l, session)
	res = proxyutil.NewResponse(http.StatusForbidden, bytes.NewReader([]byte(page)), session.HTTPRequest)
	res.Close = true
	res.ContentLength = int64(len(page))
	res.Header.Set("Content-Type", "text/html; charset=utf-8")

	return res
}
