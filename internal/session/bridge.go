package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/playwright-community/playwright-go"
	"github.com/tidwall/gjson"

	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/obs"
	"github.com/kuitang/stackcheck/internal/registry"
	"github.com/kuitang/stackcheck/internal/urlutil"
)

type bridgeStrategy struct {
	bridge *registry.CookieBridge
	client *http.Client
	opts   Options
}

func (s *bridgeStrategy) Prepare(ctx context.Context, t Target) (*Session, error) {
	logger := obs.From(ctx)
	endpoint := urlutil.BuildAbsolute(t.BaseURL, s.bridge.Path)
	fields := credentialFields(s.bridge.UsernameField, s.bridge.PasswordField, t.Credential)

	resp, err := postLogin(ctx, s.client, endpoint, s.bridge.Encoding, fields, nil)
	if err != nil {
		return nil, err
	}

	rejected := ""
	switch {
	case !resp.ok():
		rejected = fmt.Sprintf("cookie login returned %d", resp.status)
	case s.bridge.RejectBody != "" && strings.TrimSpace(string(resp.body)) == s.bridge.RejectBody:
		rejected = "cookie login rejected credentials"
	}
	if rejected != "" {
		if s.bridge.Fallback == nil {
			return nil, errs.New(errs.AuthFailed, rejected)
		}
		logger.Warn("session_bridge_rejected_using_form", "reason", rejected)
		return New(), nil
	}

	domain := t.CookieDomain()
	sess := New()
	sess.Cookies = ParseSetCookies(resp.headers.Values("Set-Cookie"), domain)
	if s.bridge.SessionPath != "" {
		if sid := gjson.GetBytes(resp.body, s.bridge.SessionPath).String(); sid != "" {
			sess.Cookies = append(sess.Cookies, Cookie{Name: s.bridge.SessionCookie, Value: sid, Domain: domain, Path: "/"})
		}
	}
	logger.Info("session_cookies_bridged", "cookies", len(sess.Cookies), "domain", domain)
	return sess, nil
}

// Interact runs the fallback form, if any. The form is presence-gated: when the bridged
// cookies already authenticated the page it never appears.
func (s *bridgeStrategy) Interact(ctx context.Context, page playwright.Page, t Target) error {
	if s.bridge.Fallback == nil {
		return nil
	}
	return runForm(ctx, page, t, s.bridge.Fallback, s.opts)
}
