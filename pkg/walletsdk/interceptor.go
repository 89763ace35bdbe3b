package walletsdk

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/aussiebroadwan/walletkit/pkg/idx"
	"github.com/aussiebroadwan/walletkit/pkg/slogx"
)

// RequestHook mutates an outgoing request before it is sent. Hooks receive
// a private clone of the caller's request.
type RequestHook func(*http.Request)

// Registration identifies an installed hook. The zero value is never issued.
type Registration uint64

// Interceptors is an ordered set of request hooks.
type Interceptors struct {
	mu    sync.RWMutex
	next  Registration
	hooks []hookEntry
}

type hookEntry struct {
	id   Registration
	hook RequestHook
}

// Use appends a hook and returns its registration.
func (i *Interceptors) Use(hook RequestHook) Registration {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.next++
	i.hooks = append(i.hooks, hookEntry{id: i.next, hook: hook})
	return i.next
}

// Eject removes a hook. It reports whether the registration was installed.
func (i *Interceptors) Eject(r Registration) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	for n, e := range i.hooks {
		if e.id == r {
			i.hooks = append(i.hooks[:n:n], i.hooks[n+1:]...)
			return true
		}
	}
	return false
}

// Len is the number of installed hooks.
func (i *Interceptors) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.hooks)
}

func (i *Interceptors) apply(req *http.Request) {
	i.mu.RLock()
	hooks := make([]RequestHook, len(i.hooks))
	for n, e := range i.hooks {
		hooks[n] = e.hook
	}
	i.mu.RUnlock()

	for _, h := range hooks {
		h(req)
	}
}

// bearer returns the hook that attaches an access credential.
func bearer(token string) RequestHook {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

type noRefreshKey struct{}

// withoutRefresh marks ctx so the transport neither refreshes nor retries
// requests made with it.
func withoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRefreshKey{}, true)
}

func refreshDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(noRefreshKey{}).(bool)
	return v
}

// interceptTransport runs the client's hooks and recovers from a 401 with
// one refresh and one retry.
type interceptTransport struct {
	client *Client
	base   http.RoundTripper
}

func (t *interceptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c := t.client
	ctx := req.Context()

	if c.refreshSkew > 0 && !refreshDisabled(ctx) && c.accessExpiring() {
		if _, err := c.Refresh(withoutRefresh(ctx)); err != nil {
			c.logger.Debug("walletsdk: proactive refresh failed", "err", err)
		}
	}

	out := t.prepare(req, "")
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || refreshDisabled(ctx) || !c.hasRefreshToken() {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		c.logger.Debug("walletsdk: cannot replay request body, skipping retry", "path", req.URL.Path)
		return resp, nil
	}

	if _, err := c.Refresh(withoutRefresh(ctx)); err != nil {
		// The caller gets the original 401; refresh failures are already logged.
		return resp, nil
	}

	retry := req.Clone(withoutRefresh(ctx))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	c.metrics.retries.Inc()
	c.logger.Debug("walletsdk: retrying after refresh", "path", req.URL.Path)
	return t.base.RoundTrip(t.prepare(retry, out.Header.Get(slogx.RequestIDHeader)))
}

// prepare clones req, stamps a request ID and runs the hooks on the clone.
func (t *interceptTransport) prepare(req *http.Request, reqID string) *http.Request {
	out := req.Clone(req.Context())
	if out.Header.Get(slogx.RequestIDHeader) == "" {
		if reqID == "" {
			reqID = idx.New().String()
		}
		out.Header.Set(slogx.RequestIDHeader, reqID)
	}
	t.client.interceptors.apply(out)
	return out
}
