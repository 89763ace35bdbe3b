/*
Package walletsdk is a client SDK for the wallet service. It keeps the
session of one user: the access and refresh credentials issued by the
service, the current user record, and the request hook that attaches the
access credential to outgoing traffic.

# Sessions

A Client starts logged out. Login exchanges a Discord authorization code
for a credential pair and loads the user:

	client, err := walletsdk.New("https://wallet.example.com")
	if err != nil {
		return err
	}

	if _, err := client.Login(ctx, code, roomID); err != nil {
		return err // *AuthenticationError
	}

	user := client.User()

Refresh exchanges the refresh credential for a new access credential and
reloads the user. Concurrent refreshes share a single request to the
service. Logout revokes the session on the service and, only when the
service accepted it, forgets the local state.

# Authenticated traffic

HTTPClient returns an *http.Client whose transport runs the registered
request hooks. While logged in, one hook sets exactly one
"Authorization: Bearer <access>" header. When a response comes back 401
the transport refreshes once and replays the request; if the refresh
fails the original 401 is handed back unchanged.

	resp, err := client.HTTPClient().Get(client.BaseURL() + "/api/things")

# Out-of-band actions

CreateWallet and SignTransaction open a page of the wallet service on a
trusted surface (see package oob) and wait for the service to report the
action done:

	err := client.CreateWallet(ctx, roomID)

# Events

Events returns the bus on which the client emits events.Login after a
successful login and events.Logout after a successful logout.

# Error Handling

Failures are typed. Use errors.Is with ErrAuthentication, ErrRefreshFailed,
ErrNoRefreshToken and ErrLogoutFailed, or errors.As with *APIError to read
the status code of a rejected request.
*/
package walletsdk
