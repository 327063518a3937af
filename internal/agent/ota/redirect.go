package ota

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/autopeer-io/otaagent/internal/agent/core"
	"github.com/autopeer-io/otaagent/internal/pkg/metrics"
	"github.com/autopeer-io/otaagent/pkg/log"
)

// DefaultMaxRedirects bounds the number of redirects followed for one download.
const DefaultMaxRedirects = 10

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Resolver follows redirect chains by re-issuing GET against each Location.
type Resolver struct {
	transport    core.Transport
	maxRedirects int
	logger       log.Logger
}

func NewResolver(transport core.Transport, maxRedirects int, logger log.Logger) *Resolver {
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Resolver{
		transport:    transport,
		maxRedirects: maxRedirects,
		logger:       logger,
	}
}

// Resolve follows redirects starting from resp and returns the final response and its status.
//
// A redirect without Location closes the exchange and returns 400 with ErrMissingLocation.
// When the limit is reached the last response is returned with a nil error; callers
// see its redirect status and treat it as a failed download.
func (r *Resolver) Resolve(ctx context.Context, resp core.Response) (core.Response, int, error) {
	code := resp.StatusCode()
	current := resp.URL()
	chain := []string{current}

	for hop := 0; hop < r.maxRedirects && isRedirect(code); hop++ {
		location := resp.Header("Location")
		if location == "" {
			_ = resp.Close()
			r.logger.Warn("Redirect without Location header", "url", current, "status", code)
			return nil, http.StatusBadRequest, ErrMissingLocation
		}

		next, err := resolveLocation(current, location)
		if err != nil {
			_ = resp.Close()
			return nil, http.StatusBadRequest, fmt.Errorf("invalid Location %q: %w", location, err)
		}

		_ = resp.Close()
		r.logger.Debug("Following redirect", "status", code, "from", current, "to", next, "hop", hop+1)

		resp, err = r.transport.Get(ctx, next)
		if err != nil {
			return nil, 0, &TransportError{URL: next, Err: err}
		}
		metrics.RedirectsTotal.Inc()

		code = resp.StatusCode()
		current = next
		chain = append(chain, next)
	}

	if isRedirect(code) {
		r.logger.Warn("Redirect limit reached, giving up", "limit", r.maxRedirects, "status", code, "chain", chain)
	}

	return resp, code, nil
}

// resolveLocation resolves a possibly relative Location against the URL that returned it.
func resolveLocation(base, location string) (string, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	if base == "" || ref.IsAbs() {
		return ref.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}
