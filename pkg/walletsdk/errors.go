package walletsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrAuthentication marks a login the service did not accept.
	ErrAuthentication = errors.New("walletsdk: authentication failed")

	// ErrNoRefreshToken means a refresh was attempted while no refresh
	// credential was stored.
	ErrNoRefreshToken = errors.New("walletsdk: no refresh token")

	// ErrRefreshFailed marks any failed refresh.
	ErrRefreshFailed = errors.New("walletsdk: refresh failed")

	// ErrLogoutFailed marks a logout the service did not confirm.
	ErrLogoutFailed = errors.New("walletsdk: logout failed")

	// errSessionChanged is the cause of a refresh whose result was dropped
	// because the session was replaced or ended while it was in flight.
	errSessionChanged = errors.New("walletsdk: session changed during refresh")

	// errMalformedTokens is the cause of a login whose response lacked tokens.
	errMalformedTokens = errors.New("walletsdk: login response is missing tokens")
)

// ValidationError reports invalid input to the SDK itself.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("walletsdk: invalid %s: %s", e.Field, e.Message)
}

// AuthenticationError is returned by Login. Cause is the transport error,
// *APIError or decode failure behind it.
type AuthenticationError struct {
	Cause error
}

func (e *AuthenticationError) Error() string {
	if e.Cause == nil {
		return ErrAuthentication.Error()
	}
	return ErrAuthentication.Error() + ": " + e.Cause.Error()
}

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

func (e *AuthenticationError) Unwrap() error { return e.Cause }

// RefreshFailedError is returned by Refresh. It matches ErrRefreshFailed,
// and ErrNoRefreshToken when no refresh credential was stored. Cause is
// available for logging but is not unwrapped.
type RefreshFailedError struct {
	Cause error
}

func (e *RefreshFailedError) Error() string {
	if errors.Is(e.Cause, ErrNoRefreshToken) {
		return ErrRefreshFailed.Error() + ": " + ErrNoRefreshToken.Error()
	}
	return ErrRefreshFailed.Error()
}

func (e *RefreshFailedError) Is(target error) bool {
	switch target {
	case ErrRefreshFailed:
		return true
	case ErrNoRefreshToken:
		return errors.Is(e.Cause, ErrNoRefreshToken)
	}
	return false
}

// LogoutFailedError is returned by Logout when the service did not answer
// with a success status. Local state is untouched when it is returned.
type LogoutFailedError struct {
	Cause error
}

func (e *LogoutFailedError) Error() string {
	if e.Cause == nil {
		return ErrLogoutFailed.Error()
	}
	return ErrLogoutFailed.Error() + ": " + e.Cause.Error()
}

func (e *LogoutFailedError) Is(target error) bool { return target == ErrLogoutFailed }

func (e *LogoutFailedError) Unwrap() error { return e.Cause }

// APIError is a non-success response from the service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("walletsdk: %d %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("walletsdk: %d: %s", e.StatusCode, msg)
}

// errorResponse is the service's error body.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// parseErrorResponse turns a non-2xx response into an *APIError. Bodies that
// are not the service's JSON error shape are used as the message verbatim.
// Returns nil for 2xx responses.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && (errResp.Error != "" || errResp.Message != "") {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       errResp.Error,
			Message:    errResp.Message,
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}
