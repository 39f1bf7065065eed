// Package render drives headless Chrome via Rod to answer one
// question: how wide does an image render at a given viewport width?
// CSS can do anything, so the only reliable width for responsive image
// sets is the one a real layout engine produces.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/sitemin/sitemin/config"
)

// Config configures the Measurer.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local headless Chrome via launcher.
	RemoteURL string

	// NavigateTimeout bounds one navigation. Default: 60s.
	NavigateTimeout time.Duration

	// CloseGrace is a short delay before closing the browser, letting
	// in-flight rendering settle. Default: 1s.
	CloseGrace time.Duration

	// ViewportHeight used for every breakpoint. Default: 1080.
	ViewportHeight int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 60 * time.Second
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = time.Second
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 1080
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Target identifies the element to measure: the image's ID selector if
// it has one, else its first class selector, else the generic img tag.
type Target struct {
	ID      string   // "#name" or empty
	Classes []string // ".name" entries, may be empty
}

// Selector returns the most specific known selector for the target.
func (t Target) Selector() string {
	if t.ID != "" {
		return t.ID
	}
	if len(t.Classes) > 0 {
		return t.Classes[0]
	}
	return "img"
}

// Size is one rendered measurement. Height is reported when the layout
// engine exposes it; consumers only rely on Width.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height,omitempty"`
}

// Measurer measures rendered image widths per breakpoint.
type Measurer struct {
	cfg Config
}

// New creates a Measurer.
func New(cfg Config) *Measurer {
	cfg.defaults()
	return &Measurer{cfg: cfg}
}

// ImageWidths launches one browser instance for htmlFile (reused across
// all breakpoints), and for each breakpoint sets the viewport, navigates
// to the document's file URL, and evaluates the rendered pixel width of
// the target element.
//
// Breakpoints are evaluated sequentially on purpose: mutating the
// viewport concurrently on one page instance races the layout engine.
// A failed evaluation for one breakpoint is logged and skipped; the
// remaining breakpoints still run. The browser is always closed, with a
// short grace delay, even on failure.
func (m *Measurer) ImageWidths(ctx context.Context, htmlFile string, target Target, sizes []config.ScreenSize) (map[string]Size, error) {
	abs, err := filepath.Abs(htmlFile)
	if err != nil {
		return nil, fmt.Errorf("render: abs %s: %w", htmlFile, err)
	}
	pageURL := "file://" + abs

	browser, cleanup, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	sel := target.Selector()
	out := make(map[string]Size, len(sizes))

	for _, size := range sizes {
		w, h, err := m.measureOne(ctx, browser, pageURL, sel, size.Width)
		if err != nil {
			m.cfg.Logger.Warn("render: breakpoint measurement failed",
				"file", htmlFile, "breakpoint", size.Key, "error", err)
			continue
		}
		out[size.Key] = Size{Width: w, Height: h}
	}

	return out, nil
}

func (m *Measurer) connect(ctx context.Context) (*rod.Browser, func(), error) {
	var (
		wsURL string
		lnch  *launcher.Launcher
	)

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
	} else {
		lnch = launcher.New().Headless(true)
		u, err := lnch.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("render: launch chrome: %w", err)
		}
		wsURL = u
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, nil, fmt.Errorf("render: connect: %w", err)
	}

	cleanup := func() {
		// Grace delay lets in-flight rendering settle before teardown.
		time.Sleep(m.cfg.CloseGrace)
		if err := browser.Close(); err != nil {
			m.cfg.Logger.Warn("render: browser close failed", "error", err)
		}
		if lnch != nil {
			lnch.Cleanup()
		}
	}
	return browser, cleanup, nil
}

func (m *Measurer) measureOne(ctx context.Context, browser *rod.Browser, pageURL, sel string, viewportWidth int) (width, height int, err error) {
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return 0, 0, fmt.Errorf("render: create page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			m.cfg.Logger.Warn("render: page close failed", "error", cerr)
		}
	}()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return 0, 0, fmt.Errorf("render: set viewport %d: %w", viewportWidth, err)
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return 0, 0, fmt.Errorf("render: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		return 0, 0, fmt.Errorf("render: wait load %s: %w", pageURL, err)
	}

	res, err := page.Context(navCtx).Eval(`(sel) => {
		const el = document.querySelector(sel);
		if (!el) {
			return { width: 0, height: 0 };
		}
		const rect = el.getBoundingClientRect();
		return { width: el.width || Math.round(rect.width), height: el.height || Math.round(rect.height) };
	}`, sel)
	if err != nil {
		return 0, 0, fmt.Errorf("render: eval %q: %w", sel, err)
	}

	return res.Value.Get("width").Int(), res.Value.Get("height").Int(), nil
}
