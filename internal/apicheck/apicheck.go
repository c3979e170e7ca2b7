// Package apicheck runs browserless checks against service APIs: the reachability probe
// that infers tunnel health and read-only assertions over collection endpoints.
package apicheck

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/kuitang/stackcheck/internal/config"
	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/logutil"
	"github.com/kuitang/stackcheck/internal/obs"
	"github.com/kuitang/stackcheck/internal/registry"
	"github.com/kuitang/stackcheck/internal/urlutil"
	"github.com/kuitang/stackcheck/internal/verify"
)

const maxBody = 8 << 20

// Kind selects the predicate applied to a response body.
type Kind string

const (
	FieldEquals Kind = "field_equals"
	NonEmpty    Kind = "non_empty"
	Contains    Kind = "contains"
)

// Predicate is a JSON assertion over a response body.
type Predicate struct {
	Kind  Kind
	Field string // gjson path (FieldEquals) or element field (Contains)
	Want  string
	Flag  string // Contains: boolean element field that must also be true
}

// Check is one authenticated GET and its predicate.
type Check struct {
	Name          string
	Service       string // registry name used to resolve the address
	CredentialSet string
	Path          string
	Header        string
	Predicate     Predicate
}

const apiKeyHeader = "X-Api-Key"

// ProbeName is the reachability probe's check name.
const ProbeName = "vpn"

// DefaultChecks returns the built-in API checks.
func DefaultChecks() []Check {
	return []Check{
		{
			Name:          ProbeName,
			Service:       "sonarr",
			CredentialSet: registry.SetSonarr,
			Path:          "/api/v3/system/status",
			Header:        apiKeyHeader,
			Predicate:     Predicate{Kind: FieldEquals, Field: "appName", Want: "Sonarr"},
		},
		{
			Name:          "radarr-rootfolder",
			Service:       "radarr",
			CredentialSet: registry.SetRadarr,
			Path:          "/api/v3/rootfolder",
			Header:        apiKeyHeader,
			Predicate:     Predicate{Kind: Contains, Field: "path", Want: "/data/media/movies", Flag: "accessible"},
		},
		{
			Name:          "sonarr-rootfolder",
			Service:       "sonarr",
			CredentialSet: registry.SetSonarr,
			Path:          "/api/v3/rootfolder",
			Header:        apiKeyHeader,
			Predicate:     Predicate{Kind: Contains, Field: "path", Want: "/data/media/tv", Flag: "accessible"},
		},
		{
			Name:          "radarr-movies",
			Service:       "radarr",
			CredentialSet: registry.SetRadarr,
			Path:          "/api/v3/movie",
			Header:        apiKeyHeader,
			Predicate:     Predicate{Kind: NonEmpty},
		},
		{
			Name:          "sonarr-series",
			Service:       "sonarr",
			CredentialSet: registry.SetSonarr,
			Path:          "/api/v3/series",
			Header:        apiKeyHeader,
			Predicate:     Predicate{Kind: NonEmpty},
		},
	}
}

// Checker performs API checks with an out-of-band client.
type Checker struct {
	client *http.Client
}

// NewChecker returns a checker using client.
func NewChecker(client *http.Client) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return &Checker{client: client}
}

// Run executes chk against base. A missing API key is a skip and makes no request.
func (c *Checker) Run(ctx context.Context, chk Check, base string, cred config.Credential) error {
	if cred.APIKey == "" {
		return errs.New(errs.Skipped, "api key not configured for "+chk.CredentialSet)
	}

	endpoint := urlutil.BuildAbsolute(base, chk.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "build request", err)
	}
	req.Header.Set(chk.Header, cred.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.DeadlineExceeded, chk.Name, ctx.Err())
		}
		return errs.Wrap(errs.Unavailable, chk.Name+": request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return errs.Wrap(errs.Unavailable, chk.Name+": read body", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errs.New(errs.AuthFailed, fmt.Sprintf("%s: api key rejected (%d)", chk.Name, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		obs.From(ctx).Warn("api_check_status",
			"status", resp.StatusCode,
			"body", logutil.FormatBodyForLog(resp.Header.Get("Content-Type"), body, 300, false),
		)
		return errs.New(errs.VerificationFailed, fmt.Sprintf("%s: status %d", chk.Name, resp.StatusCode))
	}

	if err := evaluate(chk.Predicate, body); err != nil {
		return errs.Wrap(errs.VerificationFailed, chk.Name, err)
	}
	return nil
}

func evaluate(p Predicate, body []byte) error {
	switch p.Kind {
	case FieldEquals:
		return verify.FieldEquals(body, p.Field, p.Want)
	case NonEmpty:
		return verify.NonEmpty(body)
	case Contains:
		return verify.Contains(body, p.Field, p.Want, p.Flag)
	default:
		return errs.New(errs.InvalidArgument, "unknown predicate "+string(p.Kind))
	}
}
