package walletsdk

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/walletkit/pkg/cryptox"
	"github.com/aussiebroadwan/walletkit/pkg/events"
	"github.com/aussiebroadwan/walletkit/pkg/oob"
	"github.com/aussiebroadwan/walletkit/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

const defaultTimeout = 10 * time.Second

// Client holds the session of one user against the wallet service. It is
// safe for concurrent use.
type Client struct {
	baseURL      string
	raw          *http.Client // bypasses hooks, for the auth endpoints
	http         *http.Client // hooks plus 401 retry
	interceptors *Interceptors
	events       *events.Bus
	broker       *oob.Broker
	logger       *slog.Logger
	metrics      *metrics
	refreshSkew  time.Duration
	flight       singleflight.Group

	mu      sync.RWMutex
	access  *Credential
	refresh *Credential
	user    *User
	hook    Registration
}

type options struct {
	httpClient    *http.Client
	logger        *slog.Logger
	broker        *oob.Broker
	surface       oob.Surface
	source        oob.MessageSource
	geometry      oob.Geometry
	actionTimeout time.Duration
	registerer    prometheus.Registerer
	refreshSkew   time.Duration
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient sets the client whose transport and timeout are used for
// every request. Its Transport is wrapped, not replaced.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBroker supplies a ready broker. It overrides WithSurface,
// WithMessageSource, WithGeometry and WithActionTimeout.
func WithBroker(b *oob.Broker) Option {
	return func(o *options) { o.broker = b }
}

// WithSurface sets where out-of-band pages are shown.
func WithSurface(s oob.Surface) Option {
	return func(o *options) { o.surface = s }
}

// WithMessageSource sets where completion messages arrive from.
func WithMessageSource(s oob.MessageSource) Option {
	return func(o *options) { o.source = s }
}

// WithGeometry sets the size and position of out-of-band pages.
func WithGeometry(g oob.Geometry) Option {
	return func(o *options) { o.geometry = g }
}

// WithActionTimeout bounds out-of-band actions. Zero waits indefinitely.
func WithActionTimeout(d time.Duration) Option {
	return func(o *options) { o.actionTimeout = d }
}

// WithMetrics registers the client's counters with reg. Clients given the
// same registerer add to the same counters.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithRefreshSkew refreshes before a request whenever the access credential
// expires within d. Without it the client only refreshes after a 401.
func WithRefreshSkew(d time.Duration) Option {
	return func(o *options) { o.refreshSkew = d }
}

// New returns a logged out client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, &ValidationError{Field: "baseURL", Message: err.Error()}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ValidationError{Field: "baseURL", Message: "must be an absolute http or https URL"}
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := defaultTimeout
	var base http.RoundTripper
	if o.httpClient != nil {
		timeout = o.httpClient.Timeout
		base = o.httpClient.Transport
	}
	logged := &slogx.Transport{Base: base, Logger: logger}

	broker := o.broker
	if broker == nil {
		broker, err = oob.NewBroker(oob.Config{
			BaseURL:  baseURL,
			Surface:  o.surface,
			Source:   o.source,
			Geometry: o.geometry,
			Timeout:  o.actionTimeout,
			Logger:   logger,
		})
		if err != nil {
			return nil, &ValidationError{Field: "baseURL", Message: err.Error()}
		}
	}

	m, err := newMetrics(o.registerer)
	if err != nil {
		return nil, &ValidationError{Field: "metrics", Message: err.Error()}
	}

	c := &Client{
		baseURL:      baseURL,
		raw:          &http.Client{Transport: logged, Timeout: timeout},
		interceptors: &Interceptors{},
		events:       events.New(),
		broker:       broker,
		logger:       logger,
		metrics:      m,
		refreshSkew:  o.refreshSkew,
	}
	c.http = &http.Client{
		Transport: &interceptTransport{client: c, base: logged},
		Timeout:   timeout,
	}

	c.events.On(events.Logout, func(any) { c.ejectAccessHook() })

	return c, nil
}

// BaseURL is the service URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient returns the client that attaches the session's credential and
// recovers from a 401 once. Use it for any call to the service.
func (c *Client) HTTPClient() *http.Client { return c.http }

// Do sends req with HTTPClient.
func (c *Client) Do(req *http.Request) (*http.Response, error) { return c.http.Do(req) }

// Interceptors exposes the hook chain run on every request of HTTPClient.
func (c *Client) Interceptors() *Interceptors { return c.interceptors }

// Events is the bus on which login and logout are announced.
func (c *Client) Events() *events.Bus { return c.events }

// Broker runs the client's out-of-band actions.
func (c *Client) Broker() *oob.Broker { return c.broker }

// NewRoomID returns a fresh flow correlation ID.
func (c *Client) NewRoomID() (string, error) { return cryptox.NewRoomID() }
