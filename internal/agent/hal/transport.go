package hal

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/autopeer-io/otaagent/internal/agent/core"
	"github.com/autopeer-io/otaagent/pkg/log"
)

// TransportConfig configures an HTTPTransport.
type TransportConfig struct {
	// ConnectTimeout bounds dialing, the TLS handshake and the wait for response headers.
	ConnectTimeout time.Duration
	// InsecureSkipVerify disables certificate verification. Firmware authenticity is not
	// checked at the transport layer when it is set.
	InsecureSkipVerify bool
	// BufferSize bounds the bytes read ahead of the downloader.
	BufferSize int
}

// HTTPTransport issues GET requests and leaves redirects to the caller.
type HTTPTransport struct {
	client     *http.Client
	bufferSize int
	logger     log.Logger
}

var _ core.Transport = (*HTTPTransport)(nil)

func NewHTTPTransport(cfg TransportConfig, logger log.Logger) *HTTPTransport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("TLS certificate verification is disabled for firmware downloads")
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &HTTPTransport{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   cfg.ConnectTimeout,
				ResponseHeaderTimeout: cfg.ConnectTimeout,
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: cfg.InsecureSkipVerify,
				},
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		bufferSize: cfg.BufferSize,
		logger:     logger,
	}
}

func (t *HTTPTransport) Get(ctx context.Context, url string) (core.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}

	t.logger.Debug("GET", "url", url, "status", resp.StatusCode, "length", resp.ContentLength)
	return &httpResponse{url: url, resp: resp, bufferSize: t.bufferSize}, nil
}

type httpResponse struct {
	url        string
	resp       *http.Response
	bufferSize int

	once   sync.Once
	stream *pumpStream
}

func (r *httpResponse) StatusCode() int { return r.resp.StatusCode }

func (r *httpResponse) Header(name string) string { return r.resp.Header.Get(name) }

func (r *httpResponse) ContentLength() int64 { return r.resp.ContentLength }

func (r *httpResponse) URL() string { return r.url }

// Stream starts reading the body on first use.
func (r *httpResponse) Stream() core.Stream {
	r.once.Do(func() {
		r.stream = newPumpStream(r.resp.Body, r.bufferSize)
	})
	return r.stream
}

func (r *httpResponse) Close() error {
	r.once.Do(func() {})
	if r.stream != nil {
		r.stream.close()
	}
	return r.resp.Body.Close()
}
