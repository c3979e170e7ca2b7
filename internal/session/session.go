// Package session establishes authenticated sessions against the services under test.
//
// Each registry mechanism has one strategy. A strategy runs in two phases: Prepare performs
// any out-of-band HTTP login before a page exists and returns the resulting Session; Interact
// runs on the opened page for mechanisms that need the UI (form logins and fallbacks).
// A Session lives for exactly one service run and is never persisted.
package session

import (
	"context"
	"net/url"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/stackcheck/internal/obs"
	"github.com/kuitang/stackcheck/internal/urlutil"
)

// Cookie is a cookie record to inject into a browsing context.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Session is the transient authentication artifact of one service run.
type Session struct {
	Headers map[string]string // attached to every request the context makes
	Query   url.Values        // appended to every navigated URL
	Cookies []Cookie          // injected before the first navigation
}

// New returns an empty session.
func New() *Session {
	return &Session{Headers: map[string]string{}, Query: url.Values{}}
}

// Empty reports whether the session carries nothing to apply.
func (s *Session) Empty() bool {
	return s == nil || (len(s.Headers) == 0 && len(s.Query) == 0 && len(s.Cookies) == 0)
}

// URL returns raw with the session's query parameters merged in.
func (s *Session) URL(raw string) string {
	if s == nil {
		return raw
	}
	return urlutil.WithQuery(raw, s.Query)
}

// Apply injects cookies and registers header middleware on bctx. Header injection is a
// single context-scoped route over every request, registered once per run.
func (s *Session) Apply(ctx context.Context, bctx playwright.BrowserContext) error {
	if s == nil {
		return nil
	}
	if len(s.Cookies) > 0 {
		cookies := make([]playwright.OptionalCookie, 0, len(s.Cookies))
		for _, c := range s.Cookies {
			cookies = append(cookies, playwright.OptionalCookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: playwright.String(c.Domain),
				Path:   playwright.String(c.Path),
			})
		}
		if err := bctx.AddCookies(cookies); err != nil {
			return err
		}
	}
	if len(s.Headers) > 0 {
		extra := make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			extra[strings.ToLower(k)] = v
		}
		handler := func(route playwright.Route) {
			headers := route.Request().Headers()
			merged := make(map[string]string, len(headers)+len(extra))
			for k, v := range headers {
				merged[k] = v
			}
			for k, v := range extra {
				merged[k] = v
			}
			if err := route.Continue(playwright.RouteContinueOptions{Headers: merged}); err != nil {
				obs.From(ctx).Debug("route_continue_failed", "error", err)
			}
		}
		if err := bctx.Route("**/*", handler); err != nil {
			return err
		}
	}
	return nil
}

// ParseSetCookie parses one Set-Cookie header value into a cookie record scoped to domain
// and the root path. Attributes are ignored; the value keeps any '=' it contains.
// ok is false when the header has no cookie name.
func ParseSetCookie(header, domain string) (Cookie, bool) {
	pair, _, _ := strings.Cut(header, ";")
	name, value, _ := strings.Cut(pair, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return Cookie{}, false
	}
	return Cookie{
		Name:   name,
		Value:  strings.TrimSpace(value),
		Domain: domain,
		Path:   "/",
	}, true
}

// ParseSetCookies parses every Set-Cookie header value, skipping nameless ones.
func ParseSetCookies(headers []string, domain string) []Cookie {
	cookies := make([]Cookie, 0, len(headers))
	for _, h := range headers {
		if c, ok := ParseSetCookie(h, domain); ok {
			cookies = append(cookies, c)
		}
	}
	return cookies
}
