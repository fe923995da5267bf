package install

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Source opens an artifact by URI.
type Source interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, uri string) (io.ReadCloser, error)

func (f SourceFunc) Open(ctx context.Context, uri string) (io.ReadCloser, error) { return f(ctx, uri) }

// FileSource reads artifacts from the local filesystem. Bare paths and
// file:// URIs are accepted; relative paths resolve under Root.
type FileSource struct {
	Root string
}

func (s FileSource) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	path := uri
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parse artifact uri: %w", err)
		}
		path = u.Path
	}
	if !filepath.IsAbs(path) && s.Root != "" {
		path = filepath.Join(s.Root, path)
	}
	return os.Open(path)
}

// Schemes routes a URI to a Source by scheme. URIs without a scheme use
// the "file" entry.
type Schemes map[string]Source

func (m Schemes) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	scheme := "file"
	if i := strings.Index(uri, "://"); i > 0 {
		scheme = strings.ToLower(uri[:i])
	}
	src, ok := m[scheme]
	if !ok {
		return nil, fmt.Errorf("no artifact source for scheme %q", scheme)
	}
	return src.Open(ctx, uri)
}
