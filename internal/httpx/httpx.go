package httpx

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
const DefaultTorProxyURL = "socks5://127.0.0.1:9050"

// DefaultClientTimeout bounds whole requests made with the shared client.
// Probes apply their own, shorter deadline per request.
const DefaultClientTimeout = 30 * time.Second

// Doer lets us accept *http.Client or a test double.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type ClientConfig struct {
	Timeout     time.Duration
	WithTor     bool
	TorProxyURL string
	// MaxConnsPerHost caps parallel connections to one host; zero means no limit.
	MaxConnsPerHost int
}

// NewClient builds the client shared by every probe of a run. It is safe for
// concurrent use and never mutated after construction.
func NewClient(cfg ClientConfig) (*http.Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientTimeout
	}

	transport := newTransport(cfg.MaxConnsPerHost)
	if cfg.WithTor {
		dial, err := torDialContext(cfg.TorProxyURL)
		if err != nil {
			return nil, err
		}
		// every connection goes through the socks proxy, never an http one
		transport.Proxy = nil
		transport.DialContext = dial
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}, nil
}

func newTransport(maxConnsPerHost int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   4,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func torDialContext(rawURL string) (dialContextFunc, error) {
	if rawURL == "" {
		rawURL = DefaultTorProxyURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse tor proxy url %q", rawURL)
	}
	dialer, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, errors.Wrapf(err, "create tor dialer for %s", u.Redacted())
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}, nil
}

// NewRequest builds a request carrying browser-like headers.
func NewRequest(ctx context.Context, method, rawURL string, body io.Reader, userAgent string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.Wrapf(err, "build request for %s", rawURL)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	return req, nil
}
