// Package stabilize decides when a dynamically rendering page is ready to capture.
//
// Network idle is not enough for the media UIs under test: they fetch artwork on viewport
// intersection. The deep profile forces that work to happen (eager images, a full vertical
// scroll, carousel traversal, a concurrent reload of stalled images) before a final settle.
// Every bounded wait here falls back to "not loaded" with a warning; only the caller's
// context can abort stabilization.
package stabilize

import (
	"context"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/obs"
	"github.com/kuitang/stackcheck/internal/registry"
)

// Options bounds the individual waits.
type Options struct {
	LoadTimeout  time.Duration // network idle / DOM content loaded
	ImageTimeout time.Duration // per stalled image
	ScrollPause  time.Duration // pause per vertical step
	BottomPause  time.Duration // pause at the bottom of the page
	MaxSteps     int           // cap on vertical steps, for pages that grow while scrolled
}

// DefaultOptions are tuned for the media server's home screen.
var DefaultOptions = Options{
	LoadTimeout:  10 * time.Second,
	ImageTimeout: 8 * time.Second,
	ScrollPause:  200 * time.Millisecond,
	BottomPause:  500 * time.Millisecond,
	MaxSteps:     200,
}

const (
	carouselEndPause   = 500 * time.Millisecond
	carouselStartPause = 200 * time.Millisecond
)

// Waiter runs stabilization profiles.
type Waiter struct {
	opts Options
}

// New returns a waiter; zero fields in opts take DefaultOptions values.
func New(opts Options) *Waiter {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultOptions.LoadTimeout
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = DefaultOptions.ImageTimeout
	}
	if opts.ScrollPause <= 0 {
		opts.ScrollPause = DefaultOptions.ScrollPause
	}
	if opts.BottomPause <= 0 {
		opts.BottomPause = DefaultOptions.BottomPause
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultOptions.MaxSteps
	}
	return &Waiter{opts: opts}
}

// Stabilize applies profile to page. It is safe to run repeatedly on the same page.
func (w *Waiter) Stabilize(ctx context.Context, page playwright.Page, profile registry.Stabilization) error {
	logger := obs.From(ctx)
	start := time.Now()

	w.waitLoad(ctx, page, profile.Load)
	if err := pause(ctx, profile.PreSettle); err != nil {
		return err
	}

	if profile.Deep {
		if err := w.deep(ctx, page, profile); err != nil {
			return err
		}
	}

	if err := pause(ctx, profile.Settle); err != nil {
		return err
	}
	logger.Info("page_stabilized", "deep", profile.Deep, "dur_ms", time.Since(start).Milliseconds())
	return nil
}

func (w *Waiter) deep(ctx context.Context, page playwright.Page, profile registry.Stabilization) error {
	logger := obs.From(ctx)

	eager, err := evalInt(ctx, page, eagerImagesJS, nil)
	if err != nil {
		return err
	}
	steps, err := evalInt(ctx, page, scrollThroughJS, map[string]any{
		"pauseMs":       w.opts.ScrollPause.Milliseconds(),
		"bottomPauseMs": w.opts.BottomPause.Milliseconds(),
		"maxSteps":      w.opts.MaxSteps,
	})
	if err != nil {
		return err
	}
	carousels := 0
	if len(profile.Carousels) > 0 {
		carousels, err = evalInt(ctx, page, traverseCarouselsJS, map[string]any{
			"selector":     strings.Join(profile.Carousels, ", "),
			"endPauseMs":   carouselEndPause.Milliseconds(),
			"startPauseMs": carouselStartPause.Milliseconds(),
		})
		if err != nil {
			return err
		}
	}
	stalled, err := w.ReloadStalledImages(ctx, page)
	if err != nil {
		return err
	}
	hidden := 0
	if len(profile.Placeholders) > 0 {
		hidden, err = evalInt(ctx, page, hidePlaceholdersJS, map[string]any{
			"selector": strings.Join(profile.Placeholders, ", "),
		})
		if err != nil {
			return err
		}
	}
	if _, err := evalInt(ctx, page, scrollTopJS, nil); err != nil {
		return err
	}

	logger.Debug("deep_stabilization",
		"eager_images", eager,
		"scroll_steps", steps,
		"carousels", carousels,
		"stalled_images", stalled,
		"placeholders_hidden", hidden,
	)
	return nil
}

// ReloadStalledImages restarts every image that has not finished loading and waits for all
// of them concurrently, each bounded by the image timeout. It returns how many were restarted.
func (w *Waiter) ReloadStalledImages(ctx context.Context, page playwright.Page) (int, error) {
	return evalInt(ctx, page, reloadStalledImagesJS, map[string]any{
		"timeoutMs": w.opts.ImageTimeout.Milliseconds(),
	})
}

func (w *Waiter) waitLoad(ctx context.Context, page playwright.Page, load registry.LoadState) {
	state := playwright.LoadStateNetworkidle
	if load == registry.LoadDOMContentLoaded {
		state = playwright.LoadStateDomcontentloaded
	}
	err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   state,
		Timeout: playwright.Float(float64(w.opts.LoadTimeout.Milliseconds())),
	})
	if err != nil && ctx.Err() == nil {
		obs.From(ctx).Warn("load_state_timeout", "state", string(load), "error", err)
	}
}

// evalInt evaluates script and coerces its numeric result. Script errors abort the run
// only when ctx is already done; otherwise they are logged and count as zero.
func evalInt(ctx context.Context, page playwright.Page, script string, arg any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errs.Wrap(errs.DeadlineExceeded, "stabilization interrupted", err)
	}
	var (
		v   any
		err error
	)
	if arg == nil {
		v, err = page.Evaluate(script)
	} else {
		v, err = page.Evaluate(script, arg)
	}
	if err != nil {
		if ctx.Err() != nil {
			return 0, errs.Wrap(errs.DeadlineExceeded, "stabilization interrupted", ctx.Err())
		}
		obs.From(ctx).Warn("stabilization_script_failed", "error", err)
		return 0, nil
	}
	return toInt(v), nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// pause sleeps for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.DeadlineExceeded, "stabilization interrupted", ctx.Err())
	}
}
