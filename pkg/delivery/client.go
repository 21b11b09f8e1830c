// Package delivery pushes a build report to the reporting endpoint.
package delivery

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cicd-ai-toolkit/watchdog/pkg/config"
)

const defaultProxyPort = 80

// NewHTTPClient builds a client for a single delivery from a settings
// snapshot. The host proxy replaces any proxy from the environment; its
// credentials are attached only when both username and password are set.
// Keep-alives are off so the connection is released with the response.
func NewHTTPClient(settings *config.Settings) *http.Client {
	timeout := settings.Global.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DisableKeepAlives = true
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.ResponseHeaderTimeout = timeout

	if proxy := ProxyURL(settings.Proxy); proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// ProxyURL returns the proxy address for p, or nil when no proxy is set.
func ProxyURL(p *config.ProxyConfig) *url.URL {
	if !p.Enabled() {
		return nil
	}

	port := p.Port
	if port == 0 {
		port = defaultProxyPort
	}

	u := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(strings.TrimSpace(p.Host), strconv.Itoa(port)),
	}
	if p.HasCredentials() {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}
