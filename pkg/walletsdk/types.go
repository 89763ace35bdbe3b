package walletsdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/aussiebroadwan/walletkit/pkg/cryptox"
)

// Credential is a bearer token and the instant it stops being valid.
// A zero ValidUntil means the expiry is unknown.
type Credential struct {
	Token      string
	ValidUntil time.Time
}

type credentialJSON struct {
	Token      string          `json:"token"`
	ValidUntil json.RawMessage `json:"validUntil,omitempty"`
}

// UnmarshalJSON accepts validUntil as an RFC 3339 string or as unix
// milliseconds. When it is missing and the token is a JWT, the token's
// exp claim is used instead.
func (c *Credential) UnmarshalJSON(data []byte) error {
	var raw credentialJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Token = raw.Token
	c.ValidUntil = time.Time{}

	v := bytes.TrimSpace(raw.ValidUntil)
	switch {
	case len(v) == 0 || bytes.Equal(v, []byte("null")):
		*c = withTokenExpiry(*c)
	case v[0] == '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		if s == "" {
			break
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			// Some deployments send the epoch as a quoted number.
			ms, nerr := strconv.ParseInt(s, 10, 64)
			if nerr != nil {
				return fmt.Errorf("walletsdk: invalid validUntil %q: %w", s, err)
			}
			t = time.UnixMilli(ms)
		}
		c.ValidUntil = t
	default:
		var ms json.Number
		if err := json.Unmarshal(v, &ms); err != nil {
			return fmt.Errorf("walletsdk: invalid validUntil: %w", err)
		}
		n, err := ms.Int64()
		if err != nil {
			f, ferr := ms.Float64()
			if ferr != nil {
				return fmt.Errorf("walletsdk: invalid validUntil: %w", err)
			}
			n = int64(f)
		}
		c.ValidUntil = time.UnixMilli(n)
	}
	return nil
}

// MarshalJSON writes validUntil as RFC 3339, or omits it when unknown.
func (c Credential) MarshalJSON() ([]byte, error) {
	out := struct {
		Token      string `json:"token"`
		ValidUntil string `json:"validUntil,omitempty"`
	}{Token: c.Token}
	if !c.ValidUntil.IsZero() {
		out.ValidUntil = c.ValidUntil.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// Expired reports whether the credential is past ValidUntil at now+skew.
// Credentials with an unknown expiry never report expired.
func (c Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.ValidUntil.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ValidUntil)
}

// TokenPair is the response of a successful login.
type TokenPair struct {
	Access  Credential `json:"access"`
	Refresh Credential `json:"refresh"`
}

// User is the authenticated user as returned by /api/users/me.
type User struct {
	ID     string  `json:"id"`
	Wallet *Wallet `json:"wallet,omitempty"`
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.Wallet != nil {
		w := *u.Wallet
		cp.Wallet = &w
	}
	return &cp
}

// Wallet is the user's custodial wallet.
type Wallet struct {
	EthAddress string `json:"eth_address"`
}

// ChecksumAddress returns the EIP-55 form of the wallet address.
func (w Wallet) ChecksumAddress() (string, error) {
	return cryptox.ChecksumAddress(w.EthAddress)
}

// UnsignedTransaction describes a transaction for the user to approve and
// sign on the wallet service. Empty fields are left out of the request.
type UnsignedTransaction struct {
	To       string
	Value    string
	Data     string
	ChainID  string
	Nonce    string
	GasLimit string

	// Extra carries fields the typed ones do not cover.
	Extra map[string]string
}

// Values renders the transaction as query parameters.
func (tx UnsignedTransaction) Values() url.Values {
	q := url.Values{}
	for k, v := range tx.Extra {
		q.Set(k, v)
	}

	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("to", tx.To)
	set("value", tx.Value)
	set("data", tx.Data)
	set("chainId", tx.ChainID)
	set("nonce", tx.Nonce)
	set("gasLimit", tx.GasLimit)
	return q
}

// loginRequest is the body of the login call.
type loginRequest struct {
	Code   string `json:"code"`
	RoomID string `json:"roomId,omitempty"`
}
