package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/reqfilter/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBlockedPage(t *testing.T) {
	t.Parallel()

	s := &Session{
		ID:      "1",
		Request: rules.NewRequest("https://example.org/<script>"),
	}

	page := buildBlockedPage(slogutil.NewDiscardLogger(), s)
	assert.Contains(t, page, "<b>example.org</b>")
	assert.Contains(t, page, "&lt;script&gt;")
}

func TestNewBlockedResponse(t *testing.T) {
	t.Parallel()

	s := NewSession("1", httptest.NewRequest("GET", "https://example.org/", nil))
	res := newBlockedResponse(slogutil.NewDiscardLogger(), s)

	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", res.Header.Get("Content-Type"))

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(body), "<!DOCTYPE html>"))
	assert.Equal(t, int64(len(body)), res.ContentLength)
}
