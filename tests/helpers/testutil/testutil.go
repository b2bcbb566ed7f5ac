// Package testutil provides fixtures for launcher tests: archive builders,
// throwaway certificate authorities, detached signatures and mocks.
package testutil

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockFetcher is a mock resource fetcher returning local paths.
type MockFetcher struct {
	mock.Mock
}

// Fetch mocks the Fetch method.
func (m *MockFetcher) Fetch(ctx context.Context, u *url.URL, version string) (string, error) {
	args := m.Called(ctx, u, version)
	return args.String(0), args.Error(1)
}

// NewMockFetcher creates a fetcher that serves each URL from paths and fails
// for anything else.
func NewMockFetcher(t *testing.T, paths map[string]string) *MockFetcher {
	t.Helper()
	m := new(MockFetcher)
	for raw, local := range paths {
		m.On("Fetch", mock.Anything, mock.MatchedBy(func(u *url.URL) bool {
			return u.String() == raw
		}), mock.Anything).Return(local, nil)
	}
	return m
}

// MustURL parses raw or fails the test.
func MustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

// FileURL returns the file URL for a local path.
func FileURL(t *testing.T, p string) *url.URL {
	t.Helper()
	abs, err := filepath.Abs(p)
	require.NoError(t, err)
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
}

// WriteFile writes data under dir and returns the full path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}
