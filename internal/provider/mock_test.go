package provider

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

var errNotFound = eris.New("mock: no response for url")

// resolveResult is a canned Resolve response.
type resolveResult struct {
	status   int
	location string
}

// mockFetcher implements fetcher.Fetcher for testing. Responses are keyed
// by URL substring so tests don't have to spell out full query strings.
type mockFetcher struct {
	mu        sync.Mutex
	responses map[string]string // substring -> body
	resolves  map[string]resolveResult
	errs      map[string]error
	requested []string
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		responses: make(map[string]string),
		resolves:  make(map[string]resolveResult),
		errs:      make(map[string]error),
	}
}

func (m *mockFetcher) Download(_ context.Context, url string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.requested = append(m.requested, url)
	m.mu.Unlock()

	for frag, err := range m.errs {
		if strings.Contains(url, frag) {
			return nil, err
		}
	}
	for frag, body := range m.responses {
		if strings.Contains(url, frag) {
			return io.NopCloser(strings.NewReader(body)), nil
		}
	}
	return nil, errNotFound
}

func (m *mockFetcher) Resolve(_ context.Context, url string) (int, string, error) {
	m.mu.Lock()
	m.requested = append(m.requested, url)
	m.mu.Unlock()

	for frag, err := range m.errs {
		if strings.Contains(url, frag) {
			return 0, "", err
		}
	}
	for frag, res := range m.resolves {
		if strings.Contains(url, frag) {
			return res.status, res.location, nil
		}
	}
	return 404, "", nil
}

func (m *mockFetcher) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requested)
}

// gzipBody compresses a fixture so it can stand in for a gzipped export.
func gzipBody(s string) string {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(s))
	_ = gz.Close()
	return buf.String()
}
