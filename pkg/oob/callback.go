package oob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/walletkit/pkg/httpx"
	"github.com/aussiebroadwan/walletkit/pkg/idx"
	"github.com/aussiebroadwan/walletkit/pkg/slogx"
	"github.com/coder/websocket"
	"github.com/gorilla/mux"
)

const (
	// DefaultCallbackAddr binds an ephemeral loopback port.
	DefaultCallbackAddr = "127.0.0.1:0"

	maxMessageBytes = 4 << 10
)

// CallbackConfig configures a CallbackListener.
type CallbackConfig struct {
	// Addr to listen on, defaults to DefaultCallbackAddr.
	Addr string

	// TrustedOrigin is allowed through CORS and the WebSocket origin check.
	// Messages from other origins are still forwarded with their real origin,
	// the Broker is the one that drops them.
	TrustedOrigin string

	RateLimit httpx.RateLimitConfig
	Logger    *slog.Logger
}

// CallbackListener is a MessageSource for hosts without a browser opener.
// The trusted page posts back to a loopback server instead of calling
// window.opener.postMessage:
//
//	POST /message   {"data": "close"}   (Origin header identifies the sender)
//	GET  /ws        WebSocket, each text frame is one message
type CallbackListener struct {
	cfg    CallbackConfig
	logger *slog.Logger
	source *ChannelSource
	router *mux.Router

	mu     sync.Mutex
	ln     net.Listener
	srv    *http.Server
	public string
}

// NewCallbackListener builds the listener; call Start to begin serving.
func NewCallbackListener(cfg CallbackConfig) (*CallbackListener, error) {
	if cfg.TrustedOrigin != "" {
		origin, err := Origin(cfg.TrustedOrigin)
		if err != nil {
			return nil, err
		}
		cfg.TrustedOrigin = origin
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultCallbackAddr
	}
	if cfg.RateLimit.RequestsPerWindow <= 0 || cfg.RateLimit.Window <= 0 {
		cfg.RateLimit = httpx.CallbackLimit
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &CallbackListener{
		cfg:    cfg,
		logger: logger,
		source: NewChannelSource(""),
	}
	l.router = l.routes()
	return l, nil
}

func (l *CallbackListener) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(l.withLogger))
	r.Use(mux.MiddlewareFunc(httpx.RateLimitMiddleware(
		l.cfg.RateLimit,
		httpx.CompositeKeyExtractor("|", httpx.IPKeyExtractor, httpx.OriginKeyExtractor),
	)))

	r.HandleFunc("/message", l.handlePreflight).Methods(http.MethodOptions)
	r.HandleFunc("/message", l.handleMessage).Methods(http.MethodPost)
	r.HandleFunc("/ws", l.handleWebSocket).Methods(http.MethodGet)
	return r
}

// Handler exposes the routes, mainly for httptest.
func (l *CallbackListener) Handler() http.Handler { return l.router }

// Start binds the listener and serves in the background.
func (l *CallbackListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return errors.New("oob: callback listener already started")
	}

	ln, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("oob: failed to listen on %s: %w", l.cfg.Addr, err)
	}

	l.ln = ln
	l.public = "http://" + ln.Addr().String()
	l.srv = &http.Server{
		Handler:           l.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("oob: callback listener stopped", "err", err)
		}
	}()

	l.logger.Info("oob: callback listener started", "addr", l.public)
	return nil
}

// URL is the listener's base URL, empty before Start.
func (l *CallbackListener) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.public
}

// Subscribe implements MessageSource.
func (l *CallbackListener) Subscribe(ctx context.Context) (Subscription, error) {
	sub, err := l.source.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return replySub{Subscription: sub, replyTo: l.URL()}, nil
}

// Close shuts the server down.
func (l *CallbackListener) Close(ctx context.Context) error {
	l.mu.Lock()
	srv := l.srv
	l.srv, l.ln = nil, nil
	l.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type replySub struct {
	Subscription
	replyTo string
}

func (s replySub) ReplyTo() string { return s.replyTo }

func (l *CallbackListener) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Pages on any origin can reach the listener; only well-formed IDs
		// make it into logs.
		id, err := idx.Parse(r.Header.Get(slogx.RequestIDHeader))
		if err != nil {
			id = idx.New()
		}
		reqID := id.String()
		w.Header().Set(slogx.RequestIDHeader, reqID)

		ctx := slogx.WithContext(r.Context(), l.logger.With(
			"method", r.Method,
			"path", r.URL.Path,
			"origin", r.Header.Get("Origin"),
		))
		next.ServeHTTP(w, r.WithContext(slogx.WithRequestID(ctx, reqID)))
	})
}

func (l *CallbackListener) trusted(origin string) bool {
	return l.cfg.TrustedOrigin != "" && origin == l.cfg.TrustedOrigin
}

func (l *CallbackListener) handlePreflight(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !l.trusted(origin) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "POST")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Max-Age", "600")
	h.Add("Vary", "Origin")
	w.WriteHeader(http.StatusNoContent)
}

type messageBody struct {
	Data json.RawMessage `json:"data"`
}

func (l *CallbackListener) handleMessage(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())
	origin := r.Header.Get("Origin")
	if l.trusted(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBytes)

	var body messageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_message", "body must be a JSON object with a data field")
		return
	}

	data := payloadString(body.Data)
	n := l.source.Post(originOrNull(origin), data)
	log.Debug("oob: message received", "delivered", n)

	w.WriteHeader(http.StatusAccepted)
}

func (l *CallbackListener) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(l.cfg.TrustedOrigin),
	})
	if err != nil {
		log.Info("oob: websocket rejected", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxMessageBytes)
	origin := originOrNull(r.Header.Get("Origin"))

	for {
		typ, data, err := conn.Read(r.Context())
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Debug("oob: websocket read ended", "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		n := l.source.Post(origin, string(data))
		log.Debug("oob: websocket message received", "delivered", n)
	}
}

// payloadString unwraps JSON strings; any other JSON value is passed on as text.
func payloadString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func originOrNull(origin string) string {
	if origin == "" {
		return "null"
	}
	return origin
}

// originPatterns turns the trusted origin into the host pattern list that
// websocket.Accept matches cross-origin requests against.
func originPatterns(trusted string) []string {
	if trusted == "" {
		return nil
	}
	u, err := url.Parse(trusted)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
