package trust

import (
	"net/http"
	"net/url"

	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/config"
	"golang.org/x/net/http/httpproxy"
)

// ProxySelector chooses the proxy for each outgoing request.
type ProxySelector struct {
	cfg   httpproxy.Config
	proxy func(*url.URL) (*url.URL, error)
}

// NewProxySelector builds a selector from the trust settings, filling unset
// values from HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
func NewProxySelector(cfg config.TrustConfig) *ProxySelector {
	env := httpproxy.FromEnvironment()
	pc := httpproxy.Config{
		HTTPProxy:  firstNonEmpty(cfg.HTTPProxy, env.HTTPProxy),
		HTTPSProxy: firstNonEmpty(cfg.HTTPSProxy, env.HTTPSProxy),
		NoProxy:    firstNonEmpty(cfg.NoProxy, env.NoProxy),
		CGI:        env.CGI,
	}
	return &ProxySelector{cfg: pc, proxy: pc.ProxyFunc()}
}

// Select returns the proxy for u, or nil for a direct connection.
func (p *ProxySelector) Select(u *url.URL) (*url.URL, error) {
	return p.proxy(u)
}

// Proxy is suitable for http.Transport.Proxy.
func (p *ProxySelector) Proxy(req *http.Request) (*url.URL, error) {
	return p.proxy(req.URL)
}

// Config returns the effective proxy settings.
func (p *ProxySelector) Config() httpproxy.Config { return p.cfg }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
