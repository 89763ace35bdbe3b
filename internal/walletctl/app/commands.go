package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/aussiebroadwan/walletkit/pkg/cryptox"
	"github.com/aussiebroadwan/walletkit/pkg/walletsdk"
)

var (
	errUsage     = errors.New("usage: walletctl <command> [flags]")
	errNoSession = errors.New("no session: set WALLET_ACCESS_TOKEN and WALLET_REFRESH_TOKEN from `walletctl login`")
)

type command struct {
	summary string
	run     func(ctx context.Context, args []string) error
}

func (app *Application) commands() map[string]command {
	return map[string]command{
		"login":         {"exchange a Discord authorization code for a session", app.cmdLogin},
		"me":            {"show the logged in user", app.cmdMe},
		"refresh":       {"exchange the refresh token for a new access token", app.cmdRefresh},
		"logout":        {"end the session on the wallet service", app.cmdLogout},
		"create-wallet": {"open the wallet creation page and wait for it to finish", app.cmdCreateWallet},
		"sign":          {"open the transaction approval page and wait for it to finish", app.cmdSign},
		"room-id":       {"print a fresh room id", app.cmdRoomID},
	}
}

func (app *Application) usage() {
	cmds := app.commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(os.Stderr, errUsage.Error())
	fmt.Fprintln(os.Stderr, "\ncommands:")
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-14s %s\n", name, cmds[name].summary)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("walletctl "+name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// session is what login prints and what the other commands read back
// through the environment.
type session struct {
	User    *userView             `json:"user,omitempty"`
	Access  *walletsdk.Credential `json:"access,omitempty"`
	Refresh *walletsdk.Credential `json:"refresh,omitempty"`
}

type userView struct {
	ID     string `json:"id"`
	Wallet string `json:"wallet,omitempty"`
}

func newUserView(u *walletsdk.User) *userView {
	if u == nil {
		return nil
	}
	v := &userView{ID: u.ID}
	if u.Wallet != nil {
		addr, err := u.Wallet.ChecksumAddress()
		if err != nil {
			addr = u.Wallet.EthAddress
		}
		v.Wallet = addr
	}
	return v
}

func (app *Application) print(v any) error {
	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// restore seeds the client from the environment.
func (app *Application) restore() error {
	if app.cfg.AccessToken == "" && app.cfg.RefreshToken == "" {
		return errNoSession
	}
	return app.client.Restore(walletsdk.TokenPair{
		Access:  walletsdk.Credential{Token: app.cfg.AccessToken},
		Refresh: walletsdk.Credential{Token: app.cfg.RefreshToken},
	})
}

func (app *Application) snapshot() session {
	s := session{User: newUserView(app.client.User())}
	if c, ok := app.client.AccessToken(); ok {
		s.Access = &c
	}
	if c, ok := app.client.RefreshToken(); ok {
		s.Refresh = &c
	}
	return s
}

func (app *Application) cmdLogin(ctx context.Context, args []string) error {
	fs := newFlagSet("login")
	code := fs.String("code", "", "Discord authorization code (required)")
	room := fs.String("room", "", "room id to correlate the login with")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *code == "" {
		fs.Usage()
		return errors.New("-code is required")
	}

	if _, err := app.client.Login(ctx, *code, *room); err != nil {
		return err
	}
	return app.print(app.snapshot())
}

func (app *Application) cmdMe(ctx context.Context, args []string) error {
	if err := newFlagSet("me").Parse(args); err != nil {
		return err
	}
	if err := app.restore(); err != nil {
		return err
	}

	user, err := app.client.FetchUser(ctx)
	if err != nil {
		return err
	}
	return app.print(newUserView(user))
}

func (app *Application) cmdRefresh(ctx context.Context, args []string) error {
	if err := newFlagSet("refresh").Parse(args); err != nil {
		return err
	}
	if err := app.restore(); err != nil {
		return err
	}

	if _, err := app.client.Refresh(ctx); err != nil {
		return err
	}
	return app.print(app.snapshot())
}

func (app *Application) cmdLogout(ctx context.Context, args []string) error {
	if err := newFlagSet("logout").Parse(args); err != nil {
		return err
	}
	if err := app.restore(); err != nil {
		return err
	}
	return app.client.Logout(ctx)
}

func (app *Application) cmdCreateWallet(ctx context.Context, args []string) error {
	fs := newFlagSet("create-wallet")
	room := fs.String("room", "", "room id, generated when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := app.listener.Start(); err != nil {
		return err
	}
	return app.client.CreateWallet(ctx, *room)
}

func (app *Application) cmdSign(ctx context.Context, args []string) error {
	fs := newFlagSet("sign")
	room := fs.String("room", "", "room id, generated when empty")
	var tx walletsdk.UnsignedTransaction
	fs.StringVar(&tx.To, "to", "", "recipient address")
	fs.StringVar(&tx.Value, "value", "", "amount in wei")
	fs.StringVar(&tx.Data, "data", "", "hex call data")
	fs.StringVar(&tx.ChainID, "chain-id", "", "chain id")
	fs.StringVar(&tx.Nonce, "nonce", "", "nonce")
	fs.StringVar(&tx.GasLimit, "gas-limit", "", "gas limit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if tx.To == "" {
		fs.Usage()
		return errors.New("-to is required")
	}
	if !cryptox.IsChecksumValid(tx.To) {
		return fmt.Errorf("-to %q is not a valid address or fails its checksum", tx.To)
	}

	if err := app.listener.Start(); err != nil {
		return err
	}
	return app.client.SignTransaction(ctx, *room, tx)
}

func (app *Application) cmdRoomID(_ context.Context, args []string) error {
	if err := newFlagSet("room-id").Parse(args); err != nil {
		return err
	}

	id, err := app.client.NewRoomID()
	if err != nil {
		return err
	}
	_, err = io.WriteString(app.out, id+"\n")
	return err
}
