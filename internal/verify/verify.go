// Package verify evaluates per-service success predicates after stabilization.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/tidwall/gjson"

	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/logutil"
	"github.com/kuitang/stackcheck/internal/obs"
	"github.com/kuitang/stackcheck/internal/registry"
)

const previewChars = 300

// URLShape fails when current contains any of the denied fragments.
func URLShape(current string, denied []string) error {
	for _, fragment := range denied {
		if fragment != "" && strings.Contains(current, fragment) {
			return errs.New(errs.VerificationFailed,
				fmt.Sprintf("still unauthenticated: url %s contains %q", logutil.RedactURLString(current), fragment))
		}
	}
	return nil
}

// MarkerLocator combines the markers into one locator matching any of them.
func MarkerLocator(page playwright.Page, markers []registry.Marker) playwright.Locator {
	var loc playwright.Locator
	for _, m := range markers {
		var next playwright.Locator
		if m.Text != "" {
			next = page.GetByText(m.Text)
		} else {
			next = page.Locator(m.Selector)
		}
		if loc == nil {
			loc = next
		} else {
			loc = loc.Or(next)
		}
	}
	return loc
}

// Markers waits up to timeout for at least one marker to become visible.
func Markers(ctx context.Context, page playwright.Page, markers []registry.Marker, timeout time.Duration) error {
	if len(markers) == 0 {
		return nil
	}
	err := MarkerLocator(page, markers).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errs.Wrap(errs.DeadlineExceeded, "waiting for success marker", ctx.Err())
	}
	preview := ""
	if text, textErr := page.Locator("body").InnerText(playwright.LocatorInnerTextOptions{Timeout: playwright.Float(1000)}); textErr == nil {
		preview = logutil.TruncateForLog(text, previewChars)
	}
	obs.From(ctx).Warn("success_marker_missing", "markers", describe(markers), "body_preview", preview)
	return errs.Wrap(errs.VerificationFailed, "no success marker visible: "+describe(markers), err)
}

// Page runs the URL-shape check and then the marker check.
func Page(ctx context.Context, page playwright.Page, v registry.Verification, timeout time.Duration) error {
	if err := URLShape(page.URL(), v.DeniedURL); err != nil {
		return err
	}
	return Markers(ctx, page, v.Markers, timeout)
}

func describe(markers []registry.Marker) string {
	parts := make([]string, 0, len(markers))
	for _, m := range markers {
		if m.Text != "" {
			parts = append(parts, fmt.Sprintf("text=%q", m.Text))
		} else {
			parts = append(parts, m.Selector)
		}
	}
	return strings.Join(parts, " | ")
}

// FieldEquals checks that the JSON value at path equals want.
func FieldEquals(body []byte, path, want string) error {
	got := gjson.GetBytes(body, path)
	if !got.Exists() {
		return errs.New(errs.VerificationFailed, fmt.Sprintf("field %s missing", path))
	}
	if got.String() != want {
		return errs.New(errs.VerificationFailed, fmt.Sprintf("field %s = %q, want %q", path, got.String(), want))
	}
	return nil
}

// NonEmpty checks that the body is a JSON array with at least one element.
func NonEmpty(body []byte) error {
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return errs.New(errs.VerificationFailed, "response is not a collection")
	}
	if len(res.Array()) == 0 {
		return errs.New(errs.VerificationFailed, "collection is empty")
	}
	return nil
}

// Contains checks that some element of the JSON array body has field equal to want and,
// when flag is set, flag true. Duplicates with flag false do not mask a later match.
func Contains(body []byte, field, want, flag string) error {
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return errs.New(errs.VerificationFailed, "response is not a collection")
	}
	matched := false
	for _, item := range res.Array() {
		if item.Get(field).String() != want {
			continue
		}
		matched = true
		if flag == "" || item.Get(flag).Bool() {
			return nil
		}
	}
	if matched {
		return errs.New(errs.VerificationFailed, fmt.Sprintf("%s %q present but %s is false", field, want, flag))
	}
	return errs.New(errs.VerificationFailed, fmt.Sprintf("no element with %s %q", field, want))
}
