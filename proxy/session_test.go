package proxy

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSession(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "http://Sub.Example.org:8080/path?q=1", nil)
	s := NewSession("1", r)

	assert.Equal(t, "1", s.ID)
	assert.Equal(t, "http://Sub.Example.org:8080/path?q=1", s.Request.URL)
	assert.Equal(t, "sub.example.org", s.Request.Hostname)
	assert.Equal(t, "example.org", s.Request.Domain)
	assert.Same(t, r, s.HTTPRequest)
}
