package walletsdk_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/walletkit/pkg/events"
	"github.com/aussiebroadwan/walletkit/pkg/slogx"
	"github.com/aussiebroadwan/walletkit/pkg/walletsdk"
	"github.com/aussiebroadwan/walletkit/pkg/wallettest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *wallettest.Server, opts ...walletsdk.Option) *walletsdk.Client {
	t.Helper()
	opts = append([]walletsdk.Option{walletsdk.WithLogger(slogx.Discard())}, opts...)
	c, err := walletsdk.New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

// loggedIn returns a client with a live session for user-1.
func loggedIn(t *testing.T, srv *wallettest.Server, opts ...walletsdk.Option) *walletsdk.Client {
	t.Helper()
	srv.AddUser("code-1", wallettest.User{ID: "user-1"})
	c := newClient(t, srv, opts...)
	_, err := c.Login(context.Background(), "code-1", "")
	require.NoError(t, err)
	return c
}

// countEvents counts emissions of kind on the client's bus.
func countEvents(c *walletsdk.Client, kind events.Kind) *atomic.Int32 {
	n := &atomic.Int32{}
	c.Events().On(kind, func(any) { n.Add(1) })
	return n
}

func TestNew_InvalidBaseURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "wallet.example.com", "ftp://wallet.example.com", "https://", "http://[::1"} {
		_, err := walletsdk.New(raw)
		var verr *walletsdk.ValidationError
		require.ErrorAs(t, err, &verr, raw)
		require.Equal(t, "baseURL", verr.Field)
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	t.Parallel()

	c, err := walletsdk.New("https://wallet.example.com/")
	require.NoError(t, err)
	require.Equal(t, "https://wallet.example.com", c.BaseURL())
	require.Equal(t, "https://wallet.example.com", c.Broker().TrustedOrigin())
}

func TestClient_StartsLoggedOut(t *testing.T) {
	t.Parallel()

	c := newClient(t, wallettest.New(t))
	require.False(t, c.IsLoggedIn())
	require.Nil(t, c.User())
	_, ok := c.AccessToken()
	require.False(t, ok)
	_, ok = c.RefreshToken()
	require.False(t, ok)
	require.Zero(t, c.Interceptors().Len())
}

func TestLogin_Success(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	srv.AddUser("code-1", wallettest.User{ID: "user-1", Wallet: &wallettest.Wallet{EthAddress: "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359"}})
	c := newClient(t, srv)
	logins := countEvents(c, events.Login)

	got, err := c.Login(context.Background(), "code-1", "room-1")
	require.NoError(t, err)
	require.Same(t, c, got)

	require.True(t, c.IsLoggedIn())
	require.Equal(t, int32(1), logins.Load())
	require.Equal(t, "room-1", srv.LastRoomID())

	user := c.User()
	require.Equal(t, "user-1", user.ID)
	require.NotNil(t, user.Wallet)
	addr, err := user.Wallet.ChecksumAddress()
	require.NoError(t, err)
	require.Equal(t, "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359", addr)

	access, ok := c.AccessToken()
	require.True(t, ok)
	require.NotEmpty(t, access.Token)
	require.WithinDuration(t, time.Now().Add(15*time.Minute), access.ValidUntil, time.Minute)
	require.Equal(t, 1, c.Interceptors().Len())
}

func TestLogin_UserIsACopy(t *testing.T) {
	t.Parallel()

	c := loggedIn(t, wallettest.New(t))
	u := c.User()
	u.ID = "mutated"
	require.Equal(t, "user-1", c.User().ID)
}

func TestLogin_RejectedCode(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := newClient(t, srv)
	logins := countEvents(c, events.Login)

	_, err := c.Login(context.Background(), "bogus", "")
	require.ErrorIs(t, err, walletsdk.ErrAuthentication)

	var authErr *walletsdk.AuthenticationError
	require.ErrorAs(t, err, &authErr)

	var apiErr *walletsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, "invalid_code", apiErr.Code)

	require.False(t, c.IsLoggedIn())
	require.Zero(t, logins.Load())
	require.Zero(t, c.Interceptors().Len())
}

func TestLogin_EmptyCode(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := newClient(t, srv)

	_, err := c.Login(context.Background(), "", "")
	var verr *walletsdk.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Zero(t, srv.Calls(wallettest.LoginPath))
}

func TestLogin_UserFetchFailureRestoresSession(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := loggedIn(t, srv)
	before, _ := c.AccessToken()
	logins := countEvents(c, events.Login)

	srv.AddUser("code-2", wallettest.User{ID: "user-2"})
	srv.FailMe(true)

	_, err := c.Login(context.Background(), "code-2", "")
	require.ErrorIs(t, err, walletsdk.ErrAuthentication)

	require.True(t, c.IsLoggedIn())
	require.Equal(t, "user-1", c.User().ID)
	after, _ := c.AccessToken()
	require.Equal(t, before.Token, after.Token)
	require.Equal(t, 1, c.Interceptors().Len())
	require.Zero(t, logins.Load())

	srv.FailMe(false)
	echo := getEcho(t, c)
	require.Equal(t, []string{"Bearer " + before.Token}, echo.Authorization)
}

func TestLogin_UserFetchFailureFromLoggedOut(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	srv.AddUser("code-1", wallettest.User{ID: "user-1"})
	srv.FailMe(true)
	c := newClient(t, srv)

	_, err := c.Login(context.Background(), "code-1", "")
	require.ErrorIs(t, err, walletsdk.ErrAuthentication)
	require.False(t, c.IsLoggedIn())
	require.Zero(t, c.Interceptors().Len())
	_, ok := c.RefreshToken()
	require.False(t, ok)
}

func TestRefresh_ReloadsUser(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := loggedIn(t, srv)
	require.Nil(t, c.User().Wallet)
	before, _ := c.AccessToken()

	srv.SetWallet("user-1", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")

	cred, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, before.Token, cred.Token)

	after, _ := c.AccessToken()
	require.Equal(t, cred.Token, after.Token)
	require.NotNil(t, c.User().Wallet)
	require.Equal(t, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", c.User().Wallet.EthAddress)
	require.Equal(t, 1, c.Interceptors().Len())
}

func TestRefresh_WithoutRefreshToken(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := newClient(t, srv)

	_, err := c.Refresh(context.Background())
	require.ErrorIs(t, err, walletsdk.ErrRefreshFailed)
	require.ErrorIs(t, err, walletsdk.ErrNoRefreshToken)
	require.Nil(t, errors.Unwrap(err))
	require.Zero(t, srv.Calls(wallettest.RefreshPath))
}

func TestRefresh_ServerFailure(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := loggedIn(t, srv)
	before, _ := c.AccessToken()
	srv.FailRefresh(true)

	_, err := c.Refresh(context.Background())
	require.ErrorIs(t, err, walletsdk.ErrRefreshFailed)
	require.NotErrorIs(t, err, walletsdk.ErrNoRefreshToken)

	var rerr *walletsdk.RefreshFailedError
	require.ErrorAs(t, err, &rerr)
	var apiErr *walletsdk.APIError
	require.ErrorAs(t, rerr.Cause, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)

	after, _ := c.AccessToken()
	require.Equal(t, before.Token, after.Token)
	require.True(t, c.IsLoggedIn())
}

func TestRefresh_SendsRefreshCredential(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := loggedIn(t, srv)
	refresh, _ := c.RefreshToken()

	// With the token revoked the refresh stops at the service, so the last
	// request seen is the refresh itself.
	srv.RevokeRefreshTokens()
	_, err := c.Refresh(context.Background())
	require.ErrorIs(t, err, walletsdk.ErrRefreshFailed)
	require.Equal(t, 1, srv.Calls(wallettest.RefreshPath))
	require.Equal(t, []string{"Bearer " + refresh.Token}, srv.LastAuthorization())
}

func TestRefresh_ConcurrentCallsShareOneRequest(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := loggedIn(t, srv)
	srv.SetRefreshDelay(200 * time.Millisecond)

	const n = 8
	start := make(chan struct{})
	tokens := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			cred, err := c.Refresh(context.Background())
			if err == nil {
				tokens[i] = cred.Token
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, srv.Calls(wallettest.RefreshPath))
	for _, tok := range tokens {
		require.Equal(t, tokens[0], tok)
	}
	require.NotEmpty(t, tokens[0])
}

func TestLogout_Success(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := loggedIn(t, srv)
	logouts := countEvents(c, events.Logout)

	require.NoError(t, c.Logout(context.Background()))

	require.False(t, c.IsLoggedIn())
	require.Nil(t, c.User())
	_, ok := c.RefreshToken()
	require.False(t, ok)
	require.Equal(t, int32(1), logouts.Load())
	require.Zero(t, c.Interceptors().Len())
}

func TestLogout_RequestsFromHandlersAreAnonymous(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := loggedIn(t, srv)

	status := 0
	c.Events().On(events.Logout, func(any) {
		require.Zero(t, c.Interceptors().Len())
		resp, err := c.HTTPClient().Get(c.BaseURL() + wallettest.EchoPath)
		require.NoError(t, err)
		resp.Body.Close()
		status = resp.StatusCode
		require.Empty(t, srv.LastAuthorization())
	})

	require.NoError(t, c.Logout(context.Background()))
	require.Equal(t, http.StatusUnauthorized, status)
	require.Zero(t, srv.Calls(wallettest.RefreshPath))
}

func TestLogout_FailureKeepsSession(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := loggedIn(t, srv)
	logouts := countEvents(c, events.Logout)
	srv.FailLogout(true)

	err := c.Logout(context.Background())
	require.ErrorIs(t, err, walletsdk.ErrLogoutFailed)

	var apiErr *walletsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)

	require.True(t, c.IsLoggedIn())
	require.Zero(t, logouts.Load())
	require.Equal(t, 1, c.Interceptors().Len())
}

func TestLogout_WhenLoggedOut(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := newClient(t, srv)
	logouts := countEvents(c, events.Logout)

	err := c.Logout(context.Background())
	require.ErrorIs(t, err, walletsdk.ErrLogoutFailed)
	require.Zero(t, logouts.Load())
}

func TestRestore(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	srv.AddUser("unused", wallettest.User{ID: "user-9"})
	access, refresh := srv.IssueTokens("user-9")
	c := newClient(t, srv)

	require.NoError(t, c.Restore(walletsdk.TokenPair{
		Access:  walletsdk.Credential{Token: access},
		Refresh: walletsdk.Credential{Token: refresh},
	}))
	require.False(t, c.IsLoggedIn())

	user, err := c.FetchUser(context.Background())
	require.NoError(t, err)
	require.Equal(t, "user-9", user.ID)
	require.True(t, c.IsLoggedIn())

	var verr *walletsdk.ValidationError
	require.ErrorAs(t, c.Restore(walletsdk.TokenPair{}), &verr)
}

func TestRestore_RefreshOnly(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	srv.AddUser("unused", wallettest.User{ID: "user-9"})
	_, refresh := srv.IssueTokens("user-9")
	c := newClient(t, srv)

	require.NoError(t, c.Restore(walletsdk.TokenPair{Refresh: walletsdk.Credential{Token: refresh}}))
	require.Zero(t, c.Interceptors().Len())

	// The first authenticated call is rejected, refreshed and retried.
	user, err := c.FetchUser(context.Background())
	require.NoError(t, err)
	require.Equal(t, "user-9", user.ID)
	require.Equal(t, 1, srv.Calls(wallettest.RefreshPath))
}

func TestRestore_ExpiryFromToken(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	srv.AddUser("unused", wallettest.User{ID: "user-9"})
	access, refresh := srv.IssueTokens("user-9")
	c := newClient(t, srv, walletsdk.WithRefreshSkew(time.Hour))

	require.NoError(t, c.Restore(walletsdk.TokenPair{
		Access:  walletsdk.Credential{Token: access},
		Refresh: walletsdk.Credential{Token: refresh},
	}))

	cred, ok := c.AccessToken()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(15*time.Minute), cred.ValidUntil, time.Minute)

	// The restored token expires inside the skew, so the first call
	// refreshes before it is sent.
	echo := getEcho(t, c)
	require.Equal(t, 1, srv.Calls(wallettest.RefreshPath))

	cred, _ = c.AccessToken()
	require.Equal(t, []string{"Bearer " + cred.Token}, echo.Authorization)
}

func TestFetchUser_UnauthorizedAfterFailedRefresh(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	c := loggedIn(t, srv)
	srv.ExpireAccessTokens()
	srv.FailRefresh(true)

	_, err := c.FetchUser(context.Background())
	var apiErr *walletsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestCredential_ExpiryFromToken(t *testing.T) {
	t.Parallel()

	srv := wallettest.New(t)
	srv.OmitValidUntil(true)
	c := loggedIn(t, srv)

	access, _ := c.AccessToken()
	require.WithinDuration(t, time.Now().Add(15*time.Minute), access.ValidUntil, time.Minute)

	refresh, _ := c.RefreshToken()
	require.True(t, refresh.ValidUntil.IsZero())
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	srv := wallettest.New(t)
	c := loggedIn(t, srv, walletsdk.WithMetrics(reg))

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	srv.FailRefresh(true)
	_, _ = c.Refresh(context.Background())
	require.NoError(t, c.Logout(context.Background()))

	require.Equal(t, 1.0, counterValue(t, reg, "walletsdk_logins_total", "success"))
	require.Equal(t, 1.0, counterValue(t, reg, "walletsdk_refreshes_total", "success"))
	require.Equal(t, 1.0, counterValue(t, reg, "walletsdk_refreshes_total", "failure"))
	require.Equal(t, 1.0, counterValue(t, reg, "walletsdk_logouts_total", "success"))
}

func TestMetrics_SharedRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	srv := wallettest.New(t)
	loggedIn(t, srv, walletsdk.WithMetrics(reg))

	srv.AddUser("code-2", wallettest.User{ID: "user-2"})
	second := newClient(t, srv, walletsdk.WithMetrics(reg))
	_, err := second.Login(context.Background(), "code-2", "")
	require.NoError(t, err)

	require.Equal(t, 2.0, counterValue(t, reg, "walletsdk_logins_total", "success"))
}

// counterValue sums the samples of a counter whose labels include value.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, values ...string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := make(map[string]bool)
			for _, lp := range m.GetLabel() {
				labels[lp.GetValue()] = true
			}
			for _, v := range values {
				if !labels[v] {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
