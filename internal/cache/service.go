package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/config"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Service resolves resource URLs to local files.
type Service interface {
	Fetch(ctx context.Context, u *url.URL, version string) (string, error)
	IsCached(u *url.URL, version string) bool
}

// partSuffix marks downloads in progress.
const partSuffix = ".part"

// HTTPService is the default Service.
type HTTPService struct {
	dir     string
	client  *Client
	logger  *logging.Logger
	metrics *monitoring.Metrics
	flight  singleflight.Group
}

// NewHTTPService creates the cache directory and a download client.
func NewHTTPService(cfg config.CacheConfig, logger *logging.Logger, metrics *monitoring.Metrics) (*HTTPService, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache directory not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &HTTPService{
		dir:     cfg.Dir,
		client:  NewClient(cfg),
		logger:  logger.Component("cache"),
		metrics: metrics,
	}, nil
}

// Dir returns the cache root.
func (s *HTTPService) Dir() string { return s.dir }

// Client exposes the download client.
func (s *HTTPService) Client() *Client { return s.client }

// LocalPath maps a resource to its location on disk. file: URLs map to
// themselves.
func (s *HTTPService) LocalPath(u *url.URL, version string) (string, error) {
	switch u.Scheme {
	case "file":
		return filepath.FromSlash(u.Path), nil
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(host, port)
	}
	host = strings.NewReplacer(":", "_", "[", "", "]", "").Replace(host)

	clean := strings.TrimPrefix(path.Clean("/"+u.Path), "/")
	dir, file := path.Split(clean)
	if file == "" {
		file = "index"
	}
	if u.RawQuery != "" {
		sum := sha256.Sum256([]byte(u.RawQuery))
		file += "." + hex.EncodeToString(sum[:4])
	}
	parts := []string{s.dir, u.Scheme, host, filepath.FromSlash(dir)}
	if version != "" {
		parts = append(parts, "v"+sanitize(version))
	}
	return filepath.Join(append(parts, file)...), nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// IsCached reports whether the resource is already available locally.
func (s *HTTPService) IsCached(u *url.URL, version string) bool {
	p, err := s.LocalPath(u, version)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// Fetch returns a local path for the resource, downloading it if needed.
// Concurrent calls for the same resource share one download.
func (s *HTTPService) Fetch(ctx context.Context, u *url.URL, version string) (string, error) {
	if u == nil {
		return "", &errs.FetchError{URL: "<nil>", Err: errors.New("no location")}
	}
	local, err := s.LocalPath(u, version)
	if err != nil {
		return "", &errs.FetchError{URL: u.String(), Err: err}
	}

	if u.Scheme == "file" {
		if _, err := os.Stat(local); err != nil {
			s.metrics.RecordFetch("error", 0)
			return "", &errs.FetchError{URL: u.String(), Err: err}
		}
		s.metrics.RecordFetch("local", 0)
		return local, nil
	}

	if s.IsCached(u, version) {
		s.metrics.RecordFetch("hit", 0)
		return local, nil
	}

	v, err, shared := s.flight.Do(local, func() (any, error) {
		return local, s.download(ctx, u, version, local)
	})
	if shared {
		s.logger.Debug("joined in-flight download", zap.String("url", u.String()))
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *HTTPService) download(ctx context.Context, u *url.URL, version, local string) error {
	start := time.Now()
	fail := func(err error) error {
		s.metrics.RecordFetch("error", time.Since(start))
		s.logger.Warn("fetch failed", zap.String("url", u.String()), zap.Error(err))
		return &errs.FetchError{URL: u.String(), Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fail(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(local), filepath.Base(local)+".*"+partSuffix)
	if err != nil {
		return fail(err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	resp, err := s.client.Download(ctx, u.Host, u.String(), version, tmpName)
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = fmt.Errorf("host %s unavailable: %w", u.Host, err)
		}
		return fail(err)
	}

	if err := checkArchive(tmpName, u); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmpName, local); err != nil {
		return fail(err)
	}

	d := time.Since(start)
	s.metrics.RecordFetch("downloaded", d)
	s.logger.Info("fetched resource",
		zap.String("url", u.String()),
		zap.String("version", version),
		zap.Int64("bytes", resp.Size()),
		zap.Duration("took", d))
	return nil
}

// checkArchive rejects responses for .jar/.zip URLs that are not zip data,
// typically an HTML error page served with status 200.
func checkArchive(p string, u *url.URL) error {
	ext := strings.ToLower(path.Ext(u.Path))
	if ext != ".jar" && ext != ".zip" {
		return nil
	}
	mt, err := mimetype.DetectFile(p)
	if err != nil {
		return err
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return nil
		}
	}
	return fmt.Errorf("expected an archive, got %s", mt.String())
}
