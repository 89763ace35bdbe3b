// Package wallettest runs an in-memory fake of the wallet API on httptest,
// for testing code that drives walletsdk.
package wallettest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/walletkit/pkg/httpx"
	"github.com/golang-jwt/jwt/v5"
)

// Routes served by the fake, matching the real API.
const (
	LoginPath   = "/api/auth/discord"
	RefreshPath = "/api/auth/refresh"
	LogoutPath  = "/api/auth/logout"
	MePath      = "/api/users/me"

	// EchoPath is a protected test-only route that reports what it received.
	EchoPath = "/api/echo"
)

var signingKey = []byte("wallettest-signing-key")

// User is the wire shape of /api/users/me.
type User struct {
	ID     string  `json:"id"`
	Wallet *Wallet `json:"wallet,omitempty"`
}

// Wallet is the wire shape of a user's wallet.
type Wallet struct {
	EthAddress string `json:"eth_address"`
}

// Echo is the body returned by EchoPath.
type Echo struct {
	Authorization []string `json:"authorization"`
	RequestID     string   `json:"request_id"`
	Body          string   `json:"body"`
}

type credential struct {
	Token      string `json:"token"`
	ValidUntil string `json:"validUntil,omitempty"`
}

// Server is a fake wallet API. Access tokens are HS256 JWTs, refresh
// tokens are opaque; neither is rotated by refresh.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	seq          int
	codes        map[string]string // login code -> user id
	users        map[string]*User
	access       map[string]string // access token -> user id
	refresh      map[string]string // refresh token -> user id
	calls        map[string]int
	lastRoomID   string
	lastAuth     []string
	accessTTL    time.Duration
	omitValid    bool
	failRefresh  bool
	failLogout   bool
	failMe       bool
	refreshDelay time.Duration
}

// New starts a fake server and closes it when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		codes:     make(map[string]string),
		users:     make(map[string]*User),
		access:    make(map[string]string),
		refresh:   make(map[string]string),
		calls:     make(map[string]int),
		accessTTL: 15 * time.Minute,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+LoginPath, s.handleLogin)
	mux.HandleFunc("POST "+RefreshPath, s.handleRefresh)
	mux.HandleFunc("POST "+LogoutPath, s.handleLogout)
	mux.HandleFunc("GET "+MePath, s.handleMe)
	mux.HandleFunc(EchoPath, s.handleEcho)

	s.Server = httptest.NewServer(httpx.Chain(mux, s.count))
	t.Cleanup(s.Close)
	return s
}

// AddUser registers a login code that authenticates as u.
func (s *Server) AddUser(code string, u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = u.ID
	cp := u
	s.users[u.ID] = &cp
}

// SetWallet attaches a wallet to an existing user.
func (s *Server) SetWallet(userID, ethAddress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.Wallet = &Wallet{EthAddress: ethAddress}
	}
}

// ExpireAccessTokens revokes every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]string)
}

// RevokeRefreshTokens revokes every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]string)
}

// FailRefresh makes the refresh endpoint answer 500.
func (s *Server) FailRefresh(fail bool) { s.set(func() { s.failRefresh = fail }) }

// FailLogout makes the logout endpoint answer 500.
func (s *Server) FailLogout(fail bool) { s.set(func() { s.failLogout = fail }) }

// FailMe makes /api/users/me answer 500.
func (s *Server) FailMe(fail bool) { s.set(func() { s.failMe = fail }) }

// OmitValidUntil drops validUntil from issued credentials.
func (s *Server) OmitValidUntil(omit bool) { s.set(func() { s.omitValid = omit }) }

// SetAccessTTL changes the lifetime of newly issued access tokens.
func (s *Server) SetAccessTTL(d time.Duration) { s.set(func() { s.accessTTL = d }) }

// SetRefreshDelay slows the refresh endpoint down, to widen race windows.
func (s *Server) SetRefreshDelay(d time.Duration) { s.set(func() { s.refreshDelay = d }) }

func (s *Server) set(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Calls reports how many requests hit path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastRoomID is the roomId of the most recent login request.
func (s *Server) LastRoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRoomID
}

// LastAuthorization is the Authorization header list of the last request.
func (s *Server) LastAuthorization() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lastAuth...)
}

// IssueTokens mints a token pair for userID directly, bypassing login.
func (s *Server) IssueTokens(userID string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.mintAccessLocked(userID)
	s.seq++
	r := fmt.Sprintf("refresh-%d", s.seq)
	s.refresh[r] = userID
	return a.Token, r
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.lastAuth = append([]string(nil), r.Header.Values("Authorization")...)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) mintAccessLocked(userID string) credential {
	s.seq++
	exp := time.Now().Add(s.accessTTL)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ID:        fmt.Sprintf("access-%d", s.seq),
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	s.access[tok] = userID

	c := credential{Token: tok}
	if !s.omitValid {
		c.ValidUntil = exp.UTC().Format(time.RFC3339Nano)
	}
	return c
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

// authorized resolves the caller's access token to a user id.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) (string, bool) {
	s.mu.Lock()
	userID, ok := s.access[bearer(r)]
	s.mu.Unlock()

	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid access token")
		return "", false
	}
	return userID, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code   string `json:"code"`
		RoomID string `json:"roomId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastRoomID = req.RoomID
	userID, ok := s.codes[req.Code]
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_code", "unknown authorization code")
		return
	}

	access := s.mintAccessLocked(userID)
	s.seq++
	refresh := credential{Token: fmt.Sprintf("refresh-%d", s.seq)}
	if !s.omitValid {
		refresh.ValidUntil = time.Now().Add(7 * 24 * time.Hour).UTC().Format(time.RFC3339Nano)
	}
	s.refresh[refresh.Token] = userID

	httpx.WriteJSON(w, http.StatusOK, map[string]credential{
		"access":  access,
		"refresh": refresh,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delay := s.refreshDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failRefresh {
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "refresh unavailable")
		return
	}

	userID, ok := s.refresh[bearer(r)]
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_refresh_token", "refresh token not recognised")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, s.mintAccessLocked(userID))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failLogout
	s.mu.Unlock()
	if fail {
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "logout unavailable")
		return
	}

	userID, ok := s.authorized(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.access, bearer(r))
	for tok, id := range s.refresh {
		if id == userID {
			delete(s.refresh, tok)
		}
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failMe
	s.mu.Unlock()
	if fail {
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "user lookup unavailable")
		return
	}

	userID, ok := s.authorized(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	u := *s.users[userID]
	if u.Wallet != nil {
		wallet := *u.Wallet
		u.Wallet = &wallet
	}
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorized(w, r); !ok {
		return
	}

	body, _ := io.ReadAll(r.Body)
	httpx.WriteJSON(w, http.StatusOK, Echo{
		Authorization: r.Header.Values("Authorization"),
		RequestID:     r.Header.Get("X-Request-ID"),
		Body:          string(body),
	})
}
