package oob

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/browser"
)

// Geometry is the requested placement of a popup. Surfaces that cannot
// position windows ignore it.
type Geometry struct {
	Width  int
	Height int
	Left   int
	Top    int
}

// CenteredGeometry returns a width x height box centred in a viewport.
func CenteredGeometry(viewportW, viewportH, width, height int) Geometry {
	return Geometry{
		Width:  width,
		Height: height,
		Left:   max((viewportW-width)/2, 0),
		Top:    max((viewportH-height)/2, 0),
	}
}

// DefaultGeometry is a 480x720 popup centred on a 1920x1080 viewport.
var DefaultGeometry = CenteredGeometry(1920, 1080, 480, 720)

// Window is an opened trusted surface.
type Window interface {
	Close() error
}

// Surface opens a user-trusted browsing context at a URL.
//
// A nil Window with a nil error means the surface could not be shown (for
// example a blocked popup). That is not fatal: the broker keeps waiting for
// the trusted origin, it just has nothing to close afterwards.
type Surface interface {
	Open(ctx context.Context, url string, g Geometry) (Window, error)
}

// FuncSurface adapts a function to Surface.
type FuncSurface func(ctx context.Context, url string, g Geometry) (Window, error)

func (f FuncSurface) Open(ctx context.Context, url string, g Geometry) (Window, error) {
	return f(ctx, url, g)
}

// WindowFunc adapts a close function to Window.
type WindowFunc func() error

func (f WindowFunc) Close() error { return f() }

// BrowserSurface opens URLs in the operating system's default browser.
type BrowserSurface struct {
	Logger *slog.Logger

	// OpenURL launches the browser. Defaults to browser.OpenURL.
	OpenURL func(url string) error
}

func (s BrowserSurface) Open(ctx context.Context, url string, _ Geometry) (Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	open := s.OpenURL
	if open == nil {
		open = browser.OpenURL
	}
	if err := open(url); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return browserWindow{logger: s.logger()}, nil
}

func (s BrowserSurface) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// browserWindow is a tab owned by the OS browser; it cannot be closed from here.
type browserWindow struct {
	logger *slog.Logger
}

func (w browserWindow) Close() error {
	w.logger.Info("oob: action finished, the browser tab can be closed")
	return nil
}
