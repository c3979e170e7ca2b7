package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/stackcheck/internal/config"
	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/logutil"
	"github.com/kuitang/stackcheck/internal/obs"
	"github.com/kuitang/stackcheck/internal/ratelimit"
	"github.com/kuitang/stackcheck/internal/registry"
	"github.com/kuitang/stackcheck/internal/urlutil"
)

const maxLoginBody = 1 << 20

// Target is everything a strategy needs to know about one run.
type Target struct {
	Service    registry.Service
	BaseURL    string
	Credential config.Credential
}

// CookieDomain is the host cookies are scoped to: the host the browser will navigate to.
func (t Target) CookieDomain() string {
	return urlutil.Hostname(t.BaseURL)
}

// Strategy establishes a session for one mechanism.
type Strategy interface {
	// Prepare runs before any page is opened. It must not touch the browser.
	Prepare(ctx context.Context, t Target) (*Session, error)
	// Interact runs on the first page after the session is applied.
	Interact(ctx context.Context, page playwright.Page, t Target) error
}

// Options tunes the bounded waits of UI interactions.
type Options struct {
	GateTimeout       time.Duration // presence-gated optional steps
	VisibilityTimeout time.Duration // required elements and post-submit navigation
}

// DefaultOptions match the defaults in internal/config.
var DefaultOptions = Options{GateTimeout: 3 * time.Second, VisibilityTimeout: 10 * time.Second}

// Establisher dispatches to the strategy for a service's mechanism.
type Establisher struct {
	client *http.Client
	opts   Options
}

// NewEstablisher returns an establisher that performs out-of-band calls with client.
func NewEstablisher(client *http.Client, opts Options) *Establisher {
	if client == nil {
		client = NewHTTPClient(nil, false)
	}
	if opts.GateTimeout <= 0 {
		opts.GateTimeout = DefaultOptions.GateTimeout
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = DefaultOptions.VisibilityTimeout
	}
	return &Establisher{client: client, opts: opts}
}

// For returns the strategy for svc's mechanism.
func (e *Establisher) For(svc registry.Service) (Strategy, error) {
	switch svc.Mechanism {
	case registry.MechanismForm:
		return &formStrategy{form: svc.Form, opts: e.opts}, nil
	case registry.MechanismTokenAPI:
		return &tokenStrategy{api: svc.Token, client: e.client}, nil
	case registry.MechanismCookieBridge:
		return &bridgeStrategy{bridge: svc.Bridge, client: e.client, opts: e.opts}, nil
	case registry.MechanismAPIKey:
		return &apiKeyStrategy{key: svc.Key}, nil
	default:
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("service %q: unknown mechanism %q", svc.Name, svc.Mechanism))
	}
}

// Middleware wraps the transport of the out-of-band client.
type Middleware func(http.RoundTripper) http.RoundTripper

// NewHTTPClient builds the client used for out-of-band logins and API checks. It keeps no
// cookie jar: cookies are bridged into the browser explicitly. Middleware is applied
// innermost first, between logging and rate limiting.
func NewHTTPClient(limiter *ratelimit.RateLimiter, insecureTLS bool, mw ...Middleware) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed home lab certificates
	}
	var rt http.RoundTripper = obs.NewLoggingTransport("session", base)
	for _, wrap := range mw {
		rt = wrap(rt)
	}
	if limiter != nil {
		rt = ratelimit.NewTransport(limiter, rt)
	}
	return &http.Client{Transport: rt, Timeout: 30 * time.Second}
}

type loginResponse struct {
	status  int
	headers http.Header
	body    []byte
}

func (r loginResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

// postLogin sends fields to endpoint in the requested encoding.
func postLogin(ctx context.Context, client *http.Client, endpoint string, enc registry.Encoding, fields map[string]string, extra map[string]string) (loginResponse, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch enc {
	case registry.EncodingForm:
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		payload, err := json.Marshal(fields)
		if err != nil {
			return loginResponse{}, errs.Wrap(errs.Internal, "encode login body", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return loginResponse{}, errs.Wrap(errs.InvalidArgument, "build login request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return loginResponse{}, errs.Wrap(errs.DeadlineExceeded, "login request", ctx.Err())
		}
		return loginResponse{}, errs.Wrap(errs.Unavailable, "login request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxLoginBody))
	if err != nil {
		return loginResponse{}, errs.Wrap(errs.Unavailable, "read login response", err)
	}
	obs.From(ctx).Debug("login_response",
		"status", resp.StatusCode,
		"body", logutil.FormatBodyForLog(resp.Header.Get("Content-Type"), data, 512, false),
	)
	return loginResponse{status: resp.StatusCode, headers: resp.Header, body: data}, nil
}

func credentialFields(usernameField, passwordField string, cred config.Credential) map[string]string {
	fields := map[string]string{}
	if usernameField != "" {
		fields[usernameField] = cred.Username
	}
	if passwordField != "" {
		fields[passwordField] = cred.Password
	}
	return fields
}

func timeoutMS(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}
