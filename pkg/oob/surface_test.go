package oob

import (
	"context"
	"errors"
	"testing"

	"github.com/aussiebroadwan/walletkit/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestBrowserSurface_Open(t *testing.T) {
	t.Parallel()

	var opened []string
	s := BrowserSurface{
		Logger:  slogx.Discard(),
		OpenURL: func(u string) error { opened = append(opened, u); return nil },
	}

	w, err := s.Open(context.Background(), trusted+"/auth?roomId=r", DefaultGeometry)
	require.NoError(t, err)
	require.NotNil(t, w)
	require.NoError(t, w.Close())
	require.Equal(t, []string{trusted + "/auth?roomId=r"}, opened)
}

func TestBrowserSurface_LaunchFailure(t *testing.T) {
	t.Parallel()

	launch := errors.New("no display")
	s := BrowserSurface{
		Logger:  slogx.Discard(),
		OpenURL: func(string) error { return launch },
	}

	w, err := s.Open(context.Background(), trusted, DefaultGeometry)
	require.ErrorIs(t, err, launch)
	require.Nil(t, w)
}

func TestBrowserSurface_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	s := BrowserSurface{OpenURL: func(string) error { called = true; return nil }}

	_, err := s.Open(ctx, trusted, DefaultGeometry)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}
