// Package oob delegates sensitive user actions (wallet creation, transaction
// signing) to a trusted origin opened in a separate surface, and waits for
// that origin to report completion.
//
// The browser primitives of the original flow, window.open and postMessage,
// are modelled as two capabilities: a Surface that opens a URL and a
// MessageSource that yields messages tagged with their sender's origin. Any
// host can supply its own, see ChannelSource, CallbackListener and
// BrowserSurface.
package oob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/walletkit/pkg/cryptox"
	"github.com/aussiebroadwan/walletkit/pkg/idx"
)

// CloseSignal is the payload that asks the opener to close the surface.
const CloseSignal = "close"

// ReplyToParam is the query parameter carrying Subscription.ReplyTo.
const ReplyToParam = "replyTo"

var (
	// ErrUnsupportedEnvironment means the host cannot show a trusted surface
	// or receive messages, so an action could never settle.
	ErrUnsupportedEnvironment = errors.New("oob: environment cannot host a trusted surface")

	// ErrActionTimeout is returned when Config.Timeout elapses first.
	ErrActionTimeout = errors.New("oob: action timed out")
)

// ActionError is a synchronous failure while starting an action, such as a
// surface that refused to open. Detail is the underlying message.
type ActionError struct {
	Detail string
}

func (e *ActionError) Error() string {
	return "oob: action failed: " + e.Detail
}

// Request is a single out-of-band action: a path on the trusted origin and
// the query parameters it needs.
type Request struct {
	Path  string
	Query url.Values
}

// Config configures a Broker.
type Config struct {
	// BaseURL of the trusted service. Its origin is the only one honoured.
	BaseURL string

	Surface Surface
	Source  MessageSource

	// Geometry defaults to DefaultGeometry.
	Geometry Geometry

	// Timeout bounds the wait for a message. Zero waits until ctx ends.
	Timeout time.Duration

	Logger *slog.Logger
}

// Broker runs out-of-band actions. It is safe for concurrent use; every
// action gets its own surface and subscription.
type Broker struct {
	baseURL  string
	origin   string
	surface  Surface
	source   MessageSource
	geometry Geometry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewBroker validates cfg and returns a Broker. A nil Surface or Source is
// allowed; actions then fail with ErrUnsupportedEnvironment.
func NewBroker(cfg Config) (*Broker, error) {
	origin, err := Origin(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	g := cfg.Geometry
	if g == (Geometry{}) {
		g = DefaultGeometry
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Broker{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		origin:   origin,
		surface:  cfg.Surface,
		source:   cfg.Source,
		geometry: g,
		timeout:  cfg.Timeout,
		logger:   logger,
	}, nil
}

// Origin returns the "scheme://host[:port]" of an absolute URL, lowercased.
func Origin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("oob: invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("oob: base url %q is not absolute", raw)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

// TrustedOrigin is the only origin whose messages settle an action.
func (b *Broker) TrustedOrigin() string { return b.origin }

// URL renders the surface URL for r. replyTo is added when non-empty.
func (b *Broker) URL(r Request, replyTo string) string {
	q := url.Values{}
	for k, vs := range r.Query {
		q[k] = append([]string(nil), vs...)
	}
	if replyTo != "" {
		q.Set(ReplyToParam, replyTo)
	}

	target := b.baseURL + r.Path
	if enc := q.Encode(); enc != "" {
		target += "?" + enc
	}
	return target
}

// NewRoomID returns a fresh correlation ID for a flow.
func (b *Broker) NewRoomID() (string, error) {
	return cryptox.NewRoomID()
}

// Do opens the surface for r and blocks until the trusted origin posts a
// message. A "close" payload closes the surface first. Nothing from the
// message is returned: success only means the action completed.
//
// Without Config.Timeout the wait is unbounded; it ends only with a message
// or with ctx.
func (b *Broker) Do(ctx context.Context, r Request) error {
	if b.surface == nil || b.source == nil {
		return ErrUnsupportedEnvironment
	}

	log := b.logger.With("action_id", idx.New().String(), "path", r.Path)

	sub, err := b.source.Subscribe(ctx)
	if err != nil {
		return &ActionError{Detail: err.Error()}
	}
	defer func() { _ = sub.Close() }()

	target := b.URL(r, sub.ReplyTo())

	win, err := b.open(ctx, target)
	if err != nil {
		log.Warn("oob: failed to open surface", "err", err)
		return &ActionError{Detail: err.Error()}
	}
	if win == nil {
		log.Warn("oob: surface was not shown, still waiting for trusted origin")
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, b.timeout, ErrActionTimeout)
		defer cancel()
	}

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return err
		}

		if msg.Origin != b.origin {
			log.Debug("oob: ignoring message from untrusted origin", "origin", msg.Origin)
			continue
		}

		if msg.Data == CloseSignal && win != nil {
			if err := win.Close(); err != nil {
				log.Warn("oob: failed to close surface", "err", err)
			}
		}

		log.Info("oob: action settled")
		return nil
	}
}

// open calls the surface, turning a panic into an error so it rejects the
// action like any other synchronous failure.
func (b *Broker) open(ctx context.Context, target string) (win Window, err error) {
	defer func() {
		if r := recover(); r != nil {
			win = nil
			err = fmt.Errorf("%v", r)
		}
	}()
	return b.surface.Open(ctx, target, b.geometry)
}
