package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned when a token parses but carries no "exp" claim.
var ErrNoExpiry = errors.New("jwtx: token has no expiry")

// parser only decodes; the SDK never holds the server's verification keys.
var parser = jwt.NewParser()

// PeekClaims decodes the registered claims of a JWT without verifying its
// signature. Callers must not make trust decisions from the result, it is
// only good for client-side bookkeeping such as refresh scheduling.
func PeekClaims(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Expiry returns the "exp" of a JWT without verifying it.
func Expiry(token string) (time.Time, error) {
	claims, err := PeekClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}
