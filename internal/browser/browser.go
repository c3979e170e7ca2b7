// Package browser owns the Playwright driver and Chromium process. Each service run gets
// its own BrowserContext, so no cookies, storage or routes cross between runs.
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/obs"
)

// Options configures the browser and its contexts.
type Options struct {
	Headless          bool
	IgnoreHTTPSErrors bool
	ViewportWidth     int
	ViewportHeight    int
	DefaultTimeout    time.Duration
}

// DefaultOptions matches a desktop viewport.
var DefaultOptions = Options{
	Headless:          true,
	IgnoreHTTPSErrors: true,
	ViewportWidth:     1920,
	ViewportHeight:    1080,
	DefaultTimeout:    10 * time.Second,
}

// Launcher starts Chromium on first use and hands out isolated contexts.
type Launcher struct {
	opts Options

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewLauncher returns a launcher. Nothing is started until the first context is requested.
func NewLauncher(opts Options) *Launcher {
	if opts.ViewportWidth <= 0 || opts.ViewportHeight <= 0 {
		opts.ViewportWidth = DefaultOptions.ViewportWidth
		opts.ViewportHeight = DefaultOptions.ViewportHeight
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultOptions.DefaultTimeout
	}
	return &Launcher{opts: opts}
}

// Start runs the driver and launches Chromium. Safe to call more than once.
func (l *Launcher) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startLocked()
}

func (l *Launcher) startLocked() error {
	if l.browser != nil {
		return nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return errs.Wrap(errs.Unavailable, "playwright not available", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return errs.Wrap(errs.Unavailable, "could not launch chromium", err)
	}
	l.pw = pw
	l.browser = browser
	obs.Pkg("browser").Info("browser_started", "headless", l.opts.Headless, "version", browser.Version())
	return nil
}

// NewContext returns a fresh, isolated browsing context.
func (l *Launcher) NewContext(ctx context.Context) (playwright.BrowserContext, error) {
	l.mu.Lock()
	if err := l.startLocked(); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	browser := l.browser
	l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.DeadlineExceeded, "new browser context", err)
	}
	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: l.opts.ViewportWidth, Height: l.opts.ViewportHeight},
		IgnoreHttpsErrors: playwright.Bool(l.opts.IgnoreHTTPSErrors),
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "could not create browser context", err)
	}
	ms := float64(l.opts.DefaultTimeout.Milliseconds())
	bctx.SetDefaultTimeout(ms)
	bctx.SetDefaultNavigationTimeout(ms * 3)
	return bctx, nil
}

// Close shuts down Chromium and the driver.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	if l.browser != nil {
		if err := l.browser.Close(); err != nil {
			firstErr = err
		}
		l.browser = nil
	}
	if l.pw != nil {
		if err := l.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.pw = nil
	}
	return firstErr
}
