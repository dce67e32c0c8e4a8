// Package rulesource contains the sources of default rule configurations.
package rulesource

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/reqfilter/rules"
	"github.com/imroc/req/v3"
)

// Interface is a source of a raw rule configuration.
type Interface interface {
	// Load returns the raw rule configuration.
	Load(ctx context.Context) (data []byte, err error)
}

// Bundled is the source of the rule configuration bundled with the binary.
type Bundled struct{}

// type check
var _ Interface = Bundled{}

// Load implements the [Interface] interface for Bundled.  It never returns an
// error.
func (Bundled) Load(_ context.Context) (data []byte, err error) {
	return rules.DefaultText(), nil
}

// File is a source of the rule configuration stored in a local file.
type File struct {
	// Path is the path to the file.
	Path string
}

// type check
var _ Interface = (*File)(nil)

// Load implements the [Interface] interface for *File.
func (f *File) Load(_ context.Context) (data []byte, err error) {
	data, err = os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	return data, nil
}

// maxBodySize is the maximum size of a remote rule configuration.
const maxBodySize = 4 * 1024 * 1024

// ErrBodyTooLarge is returned when a remote rule configuration exceeds the
// size limit.
const ErrBodyTooLarge errors.Error = "rule configuration is too large"

// URLConfig is the configuration of a remote rule configuration source.
type URLConfig struct {
	// URL is the address of the rule configuration.
	URL string

	// Timeout is the timeout of a single load.  If zero, the default of 30
	// seconds is used.
	Timeout time.Duration
}

// URL is a source of the rule configuration served over HTTP(S).
type URL struct {
	client *req.Client
	url    string
}

// NewURL returns a new remote rule configuration source.
func NewURL(c *URLConfig) (u *URL) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &URL{
		client: req.C().SetTimeout(timeout).SetUserAgent("reqfilter"),
		url:    c.URL,
	}
}

// type check
var _ Interface = (*URL)(nil)

// Load implements the [Interface] interface for *URL.  It reads at most
// maxBodySize bytes of the response body.
func (u *URL) Load(ctx context.Context) (data []byte, err error) {
	resp, err := u.client.R().SetContext(ctx).DisableAutoReadResponse().Get(u.url)
	if err != nil {
		return nil, fmt.Errorf("requesting %q: %w", u.url, err)
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	if !resp.IsSuccessState() {
		return nil, fmt.Errorf("requesting %q: unexpected status %d", u.url, resp.StatusCode)
	}

	if resp.ContentLength > maxBodySize {
		return nil, fmt.Errorf("response from %q: %w", u.url, ErrBodyTooLarge)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading response from %q: %w", u.url, err)
	}

	if len(data) > maxBodySize {
		return nil, fmt.Errorf("response from %q: %w", u.url, ErrBodyTooLarge)
	}

	return data, nil
}
