package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/playwright-community/playwright-go"
	"github.com/tidwall/gjson"

	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/obs"
	"github.com/kuitang/stackcheck/internal/registry"
	"github.com/kuitang/stackcheck/internal/urlutil"
)

type tokenStrategy struct {
	api    *registry.TokenAPI
	client *http.Client
}

func (s *tokenStrategy) Prepare(ctx context.Context, t Target) (*Session, error) {
	endpoint := urlutil.BuildAbsolute(t.BaseURL, s.api.Path)
	fields := credentialFields(s.api.UsernameField, s.api.PasswordField, t.Credential)
	resp, err := postLogin(ctx, s.client, endpoint, s.api.Encoding, fields, s.api.ExtraHeaders)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, errs.New(errs.AuthFailed, fmt.Sprintf("token login returned %d", resp.status))
	}

	token := gjson.GetBytes(resp.body, s.api.TokenPath).String()
	if token == "" {
		return nil, errs.New(errs.AuthFailed, "token login response carried no "+s.api.TokenPath)
	}

	format := s.api.HeaderFormat
	if format == "" {
		format = "%s"
	}
	sess := New()
	sess.Headers[s.api.Header] = fmt.Sprintf(format, token)
	obs.From(ctx).Info("session_token_issued", "header", s.api.Header)
	return sess, nil
}

func (s *tokenStrategy) Interact(context.Context, playwright.Page, Target) error {
	return nil
}
