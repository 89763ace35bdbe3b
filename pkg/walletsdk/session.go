package walletsdk

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/walletkit/pkg/events"
	"github.com/aussiebroadwan/walletkit/pkg/jwtx"
)

// Service routes.
const (
	LoginPath   = "/api/auth/discord"
	RefreshPath = "/api/auth/refresh"
	LogoutPath  = "/api/auth/logout"
	MePath      = "/api/users/me"
)

const refreshFlightKey = "refresh"

// Login exchanges a Discord authorization code for a session and loads the
// user. roomID correlates the login with an out-of-band flow and may be
// empty. On success it emits events.Login and returns the client itself.
//
// If the service rejects the code nothing changes. If the tokens are issued
// but the user cannot be loaded, the previous session is restored. Both
// cases return *AuthenticationError.
func (c *Client) Login(ctx context.Context, code, roomID string) (*Client, error) {
	if code == "" {
		return nil, &ValidationError{Field: "code", Message: "must not be empty"}
	}

	pair, err := c.exchangeCode(ctx, code, roomID)
	if err != nil {
		c.metrics.logins.WithLabelValues(resultFailure).Inc()
		c.logger.Warn("walletsdk: login rejected", "err", err)
		return nil, &AuthenticationError{Cause: err}
	}

	c.mu.Lock()
	prevAccess, prevRefresh, prevUser := c.access, c.refresh, c.user
	c.access = &pair.Access
	c.refresh = &pair.Refresh
	c.installAccessHookLocked(pair.Access.Token)
	c.mu.Unlock()

	user, err := c.FetchUser(withoutRefresh(ctx))
	if err != nil {
		c.mu.Lock()
		c.access, c.refresh, c.user = prevAccess, prevRefresh, prevUser
		if prevAccess != nil {
			c.installAccessHookLocked(prevAccess.Token)
		} else {
			c.ejectAccessHookLocked()
		}
		c.mu.Unlock()

		c.metrics.logins.WithLabelValues(resultFailure).Inc()
		c.logger.Warn("walletsdk: login could not load user", "err", err)
		return nil, &AuthenticationError{Cause: err}
	}

	c.metrics.logins.WithLabelValues(resultSuccess).Inc()
	c.logger.Info("walletsdk: logged in", "user_id", user.ID)
	c.events.Emit(events.Login, nil)
	return c, nil
}

func (c *Client) exchangeCode(ctx context.Context, code, roomID string) (TokenPair, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, LoginPath, loginRequest{Code: code, RoomID: roomID}, "")
	if err != nil {
		return TokenPair{}, err
	}

	var pair TokenPair
	if err := decodeJSON(resp, &pair); err != nil {
		return TokenPair{}, err
	}
	if pair.Access.Token == "" || pair.Refresh.Token == "" {
		return TokenPair{}, errMalformedTokens
	}
	return pair, nil
}

// Refresh exchanges the refresh credential for a new access credential,
// installs it and reloads the user. Concurrent calls share one request.
// Every failure is a *RefreshFailedError.
func (c *Client) Refresh(ctx context.Context) (Credential, error) {
	v, err, _ := c.flight.Do(refreshFlightKey, func() (any, error) {
		// Waiters share this call, so one caller's cancellation must not fail the rest.
		return c.doRefresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

func (c *Client) doRefresh(ctx context.Context) (Credential, error) {
	c.mu.RLock()
	refresh := c.refresh
	c.mu.RUnlock()

	if refresh == nil {
		c.metrics.refreshes.WithLabelValues(resultNoToken).Inc()
		return Credential{}, &RefreshFailedError{Cause: ErrNoRefreshToken}
	}

	fail := func(err error) (Credential, error) {
		c.metrics.refreshes.WithLabelValues(resultFailure).Inc()
		c.logger.Warn("walletsdk: refresh failed", "err", err)
		return Credential{}, &RefreshFailedError{Cause: err}
	}

	resp, err := c.doRequest(ctx, http.MethodPost, RefreshPath, nil, "Bearer "+refresh.Token)
	if err != nil {
		return fail(err)
	}

	var access Credential
	if err := decodeJSON(resp, &access); err != nil {
		return fail(err)
	}
	if access.Token == "" {
		return fail(errMalformedTokens)
	}

	c.mu.Lock()
	if c.refresh != refresh {
		c.mu.Unlock()
		return fail(errSessionChanged)
	}
	c.access = &access
	c.installAccessHookLocked(access.Token)
	c.mu.Unlock()

	if _, err := c.FetchUser(withoutRefresh(ctx)); err != nil {
		return fail(err)
	}

	c.metrics.refreshes.WithLabelValues(resultSuccess).Inc()
	c.logger.Debug("walletsdk: access credential refreshed", "valid_until", access.ValidUntil)
	return access, nil
}

// Logout revokes the session on the service. Only when the service answers
// with a success status are the user and credentials dropped and
// events.Logout emitted. Otherwise a *LogoutFailedError is returned and the
// session stays as it was.
func (c *Client) Logout(ctx context.Context) error {
	err := c.revoke(ctx)
	c.metrics.logouts.WithLabelValues(result(err)).Inc()
	if err != nil {
		c.logger.Warn("walletsdk: logout failed", "err", err)
		return &LogoutFailedError{Cause: err}
	}

	c.mu.Lock()
	c.user = nil
	c.refresh = nil
	c.access = nil
	c.ejectAccessHookLocked()
	c.mu.Unlock()

	c.logger.Info("walletsdk: logged out")
	c.events.Emit(events.Logout, nil)
	return nil
}

func (c *Client) revoke(ctx context.Context) error {
	resp, err := c.doAuthRequest(ctx, http.MethodPost, LogoutPath, nil)
	if err != nil {
		return err
	}
	return checkSuccess(resp)
}

// FetchUser loads the current user from the service and stores it.
// Errors are returned as they come: a transport error or an *APIError.
func (c *Client) FetchUser(ctx context.Context) (*User, error) {
	resp, err := c.doAuthRequest(ctx, http.MethodGet, MePath, nil)
	if err != nil {
		return nil, err
	}

	var user User
	if err := decodeJSON(resp, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, errors.New("walletsdk: user response has no id")
	}

	c.mu.Lock()
	c.user = &user
	c.mu.Unlock()

	return user.clone(), nil
}

// Restore seeds the session with credentials the host kept from an earlier
// login. A zero ValidUntil is taken from the token's exp claim when the
// token is a JWT. The user is not loaded; call FetchUser to complete the
// session.
func (c *Client) Restore(pair TokenPair) error {
	if pair.Access.Token == "" && pair.Refresh.Token == "" {
		return &ValidationError{Field: "tokens", Message: "at least one token is required"}
	}
	pair.Access = withTokenExpiry(pair.Access)
	pair.Refresh = withTokenExpiry(pair.Refresh)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.user = nil
	c.access = nil
	c.refresh = nil
	if pair.Refresh.Token != "" {
		refresh := pair.Refresh
		c.refresh = &refresh
	}
	if pair.Access.Token != "" {
		access := pair.Access
		c.access = &access
		c.installAccessHookLocked(access.Token)
	} else {
		c.ejectAccessHookLocked()
	}
	return nil
}

// withTokenExpiry fills an unknown ValidUntil from the token itself.
func withTokenExpiry(c Credential) Credential {
	if c.ValidUntil.IsZero() && c.Token != "" {
		if exp, err := jwtx.Expiry(c.Token); err == nil {
			c.ValidUntil = exp
		}
	}
	return c
}

// IsLoggedIn reports whether both a user and a refresh credential are held.
func (c *Client) IsLoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user != nil && c.refresh != nil
}

// User returns a copy of the current user, or nil.
func (c *Client) User() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user.clone()
}

// AccessToken returns the current access credential, if any.
func (c *Client) AccessToken() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.access == nil {
		return Credential{}, false
	}
	return *c.access, true
}

// RefreshToken returns the current refresh credential, if any.
func (c *Client) RefreshToken() (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.refresh == nil {
		return Credential{}, false
	}
	return *c.refresh, true
}

func (c *Client) hasRefreshToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refresh != nil
}

// accessExpiring reports whether a refresh should run before the next request.
func (c *Client) accessExpiring() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access != nil && c.refresh != nil && c.access.Expired(time.Now(), c.refreshSkew)
}

// installAccessHookLocked replaces the access hook. At most one is ever
// installed. Callers hold c.mu.
func (c *Client) installAccessHookLocked(token string) {
	c.ejectAccessHookLocked()
	c.hook = c.interceptors.Use(bearer(token))
}

func (c *Client) ejectAccessHookLocked() {
	if c.hook != 0 {
		c.interceptors.Eject(c.hook)
		c.hook = 0
	}
}

func (c *Client) ejectAccessHook() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ejectAccessHookLocked()
}
