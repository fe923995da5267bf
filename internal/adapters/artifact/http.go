// Package artifact fetches activity packages for the installation manager.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bft-labs/livespace/internal/ports"
	"github.com/bft-labs/livespace/pkg/install"
	"github.com/bft-labs/livespace/pkg/log"
)

// ErrNotFound is returned when the server has no artifact at the URI.
var ErrNotFound = errors.New("artifact not found")

// HTTPSource downloads artifacts over HTTP(S). Opening is retried on
// transport errors and 5xx responses; the body is streamed, not retried.
type HTTPSource struct {
	client     ports.HTTPClient
	newBackOff func() backoff.BackOff
	logger     log.Logger
	// Header is added to every request, e.g. for an Authorization token.
	Header http.Header
}

// NewHTTPSource creates an HTTPSource. A nil newBackOff retries three
// times with exponential delays.
func NewHTTPSource(client ports.HTTPClient, newBackOff func() backoff.BackOff, logger log.Logger) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			return backoff.WithMaxRetries(b, 3)
		}
	}
	return &HTTPSource{
		client:     client,
		newBackOff: newBackOff,
		logger:     log.OrNoop(logger).With(log.Component("artifact-http")),
	}
}

// Open starts the download of uri.
func (s *HTTPSource) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	var body io.ReadCloser
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		for k, vs := range s.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", uri, err)
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			body = resp.Body
			return nil
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, uri))
		case resp.StatusCode/100 == 4:
			resp.Body.Close()
			return backoff.Permanent(fmt.Errorf("fetch %s: server returned %d", uri, resp.StatusCode))
		}
		resp.Body.Close()
		return fmt.Errorf("fetch %s: server returned %d", uri, resp.StatusCode)
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("artifact download failed, retrying", log.String("uri", uri), log.Err(err), log.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}

// NewSchemes returns an install.Source serving file, http and https URIs.
// Relative file paths resolve under root.
func NewSchemes(root string, web *HTTPSource) install.Schemes {
	return install.Schemes{
		"file":  install.FileSource{Root: root},
		"http":  web,
		"https": web,
	}
}

var _ install.Source = (*HTTPSource)(nil)
