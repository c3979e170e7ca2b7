// Package browsertest starts a shared Chromium for package tests and skips when the
// Playwright driver or browser is not installed.
package browsertest

import (
	"context"
	"sync"
	"testing"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/stackcheck/internal/browser"
)

var (
	mu       sync.Mutex
	launcher *browser.Launcher
	startErr error
)

// Launcher returns the package-wide launcher, skipping t if Chromium cannot start.
func Launcher(t testing.TB) *browser.Launcher {
	t.Helper()
	mu.Lock()
	defer mu.Unlock()
	if launcher == nil && startErr == nil {
		l := browser.NewLauncher(browser.DefaultOptions)
		if err := l.Start(); err != nil {
			startErr = err
		} else {
			launcher = l
		}
	}
	if startErr != nil {
		t.Skip("Playwright not available:", startErr)
	}
	return launcher
}

// NewPage returns a page in a fresh context that is closed when the test ends.
func NewPage(t testing.TB) (playwright.BrowserContext, playwright.Page) {
	t.Helper()
	bctx, err := Launcher(t).NewContext(context.Background())
	if err != nil {
		t.Fatalf("could not create browser context: %v", err)
	}
	t.Cleanup(func() { _ = bctx.Close() })
	page, err := bctx.NewPage()
	if err != nil {
		t.Fatalf("could not create page: %v", err)
	}
	return bctx, page
}

// Shutdown closes the shared browser. Call from TestMain after m.Run.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if launcher != nil {
		_ = launcher.Close()
		launcher = nil
	}
}
