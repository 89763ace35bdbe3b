package walletsdk

import (
	"context"
	"net/url"

	"github.com/aussiebroadwan/walletkit/pkg/oob"
)

// Out-of-band pages on the wallet service.
const (
	CreateWalletPath    = "/auth"
	SignTransactionPath = "/transaction/send"
)

// RoomIDParam is the query parameter carrying the flow correlation ID.
const RoomIDParam = "roomId"

// CreateWallet opens the wallet creation page for roomID and waits until
// the service reports it done. An empty roomID is replaced by a fresh one.
func (c *Client) CreateWallet(ctx context.Context, roomID string) error {
	return c.action(ctx, "create_wallet", CreateWalletPath, roomID, url.Values{})
}

// SignTransaction opens the approval page for tx and waits until the
// service reports it done. The signed result is not returned; the service
// delivers it through its own channels. roomID overrides any "roomId" field
// carried in tx.
func (c *Client) SignTransaction(ctx context.Context, roomID string, tx UnsignedTransaction) error {
	return c.action(ctx, "sign_transaction", SignTransactionPath, roomID, tx.Values())
}

func (c *Client) action(ctx context.Context, kind, path, roomID string, query url.Values) error {
	if roomID == "" {
		id, err := c.broker.NewRoomID()
		if err != nil {
			return err
		}
		roomID = id
	}
	query.Set(RoomIDParam, roomID)

	c.logger.Debug("walletsdk: starting action", "action", kind, "room_id", roomID)

	err := c.broker.Do(ctx, oob.Request{Path: path, Query: query})
	c.metrics.actions.WithLabelValues(kind, result(err)).Inc()
	return err
}
