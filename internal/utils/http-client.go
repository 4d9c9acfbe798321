package utils

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"syscall"
	"time"

	"golang.org/x/oauth2"
)

var ErrClientClosed = errors.New("http client already closed")

type HTTPClientConfig struct {
	ConnectTimeout  time.Duration
	KATimeout       time.Duration
	ProxyURL        string
	ProxyUsername   string
	ProxyPassword   string
	UserAgent       string
	Headers         map[string]string
	BearerToken     string
	FollowRedirects bool
	HighThreadMode  bool // advanced socket options for high concurrency
}

// FetchClient is the one HTTP client a download manager shares across every
// probe and part. It carries no overall request timeout: a body read can block
// for as long as the server keeps the connection open.
type FetchClient struct {
	client    *http.Client
	transport *http.Transport
	config    HTTPClientConfig
	mu        sync.Mutex
	closed    bool
}

func NewFetchClient(cfg HTTPClientConfig) *FetchClient {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 90 * time.Second
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	cfg.Headers = headers
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	if cfg.HighThreadMode {
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				setSocketOptions(fd)
			})
		}
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true, // byte offsets must match the wire
		MaxConnsPerHost:     0,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	var rt http.RoundTripper = transport
	if cfg.BearerToken != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken, TokenType: "Bearer"}),
			Base:   transport,
		}
	}
	client := &http.Client{Transport: rt}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &FetchClient{
		client:    client,
		transport: transport,
		config:    cfg,
	}
}

func (c *FetchClient) Do(req *http.Request) (*http.Response, error) {
	if c.Closed() {
		return nil, ErrClientClosed
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

func (c *FetchClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close drops idle connections. A second call returns ErrClientClosed and
// touches nothing.
func (c *FetchClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}
