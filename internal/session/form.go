package session

import (
	"context"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/logutil"
	"github.com/kuitang/stackcheck/internal/obs"
	"github.com/kuitang/stackcheck/internal/registry"
	"github.com/kuitang/stackcheck/internal/urlutil"
)

type formStrategy struct {
	form *registry.FormLogin
	opts Options
}

// Prepare has nothing to do out of band: the form is driven in the page.
func (s *formStrategy) Prepare(context.Context, Target) (*Session, error) {
	return New(), nil
}

func (s *formStrategy) Interact(ctx context.Context, page playwright.Page, t Target) error {
	return runForm(ctx, page, t, s.form, s.opts)
}

// runForm drives an interactive login:
//
//	navigate -> [gate, if visible] -> [form, if visible or required] -> submit -> leave login URL
func runForm(ctx context.Context, page playwright.Page, t Target, form *registry.FormLogin, opts Options) error {
	logger := obs.From(ctx)

	loginURL := urlutil.BuildAbsolute(t.BaseURL, form.Path)
	if _, err := page.Goto(loginURL, playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateDomcontentloaded}); err != nil {
		return errs.Wrap(errs.Unavailable, "open login page", err)
	}
	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: timeoutMS(opts.VisibilityTimeout),
	}); err != nil {
		logger.Warn("login_page_not_idle", "error", err)
	}

	if form.Gate != "" {
		gate := page.GetByText(form.Gate).First()
		if visible(gate, opts.GateTimeout) {
			if err := gate.Click(); err != nil {
				return errs.Wrap(errs.AuthFailed, "click "+form.Gate, err)
			}
			logger.Info("login_gate_clicked", "gate", form.Gate)
		}
	}

	anchorSelectors := form.UsernameSelectors
	if len(anchorSelectors) == 0 {
		anchorSelectors = form.PasswordSelectors
	}
	anchor := page.Locator(strings.Join(anchorSelectors, ", ")).First()
	wait := opts.VisibilityTimeout
	if form.Optional {
		wait = opts.GateTimeout
	}
	if !visible(anchor, wait) {
		if form.Optional {
			logger.Info("login_form_absent")
			return nil
		}
		return errs.New(errs.AuthFailed, "login form not found at "+form.Path)
	}

	if len(form.UsernameSelectors) > 0 {
		if err := fill(page, form.UsernameSelectors, t.Credential.Username, opts.VisibilityTimeout); err != nil {
			return errs.Wrap(errs.AuthFailed, "fill username", err)
		}
	}
	if err := fill(page, form.PasswordSelectors, t.Credential.Password, opts.VisibilityTimeout); err != nil {
		return errs.Wrap(errs.AuthFailed, "fill password", err)
	}
	submit := page.Locator(strings.Join(form.SubmitSelectors, ", ")).First()
	if err := submit.Click(playwright.LocatorClickOptions{Timeout: timeoutMS(opts.VisibilityTimeout)}); err != nil {
		return errs.Wrap(errs.AuthFailed, "submit login form", err)
	}

	if form.AwayFrom != "" {
		if _, err := page.WaitForFunction(
			`fragment => !window.location.href.includes(fragment)`,
			form.AwayFrom,
			playwright.PageWaitForFunctionOptions{Timeout: timeoutMS(opts.VisibilityTimeout)},
		); err != nil {
			return errs.Wrap(errs.AuthFailed, "still on login page after submit", err)
		}
	} else if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: timeoutMS(opts.VisibilityTimeout),
	}); err != nil {
		logger.Warn("post_login_not_idle", "error", err)
	}

	logger.Info("login_form_submitted", "url", logutil.RedactURLString(page.URL()))
	return nil
}

// visible is a presence gate: a wait that times out means "absent", never an error.
func visible(loc playwright.Locator, timeout time.Duration) bool {
	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: timeoutMS(timeout),
	})
	return err == nil
}

// fill writes value into the first element matching any of selectors.
func fill(page playwright.Page, selectors []string, value string, timeout time.Duration) error {
	return page.Locator(strings.Join(selectors, ", ")).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: timeoutMS(timeout),
	})
}
