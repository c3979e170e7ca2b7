// Package registry is the static catalogue of services under test: where each one lives
// and which authentication mechanism it requires.
//
// Descriptors are built once at process start and never mutated afterwards. Per-service
// behaviour (login shape, stabilization profile, success markers) is data on the descriptor
// so the orchestrator dispatches once on Mechanism instead of branching on service names.
package registry

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/stackcheck/internal/errs"
	"github.com/kuitang/stackcheck/internal/urlutil"
)

// Mechanism tags the authentication strategy a service requires.
type Mechanism string

const (
	MechanismForm         Mechanism = "form"
	MechanismTokenAPI     Mechanism = "token_api"
	MechanismCookieBridge Mechanism = "cookie_bridge"
	MechanismAPIKey       Mechanism = "api_key"
)

// CredentialKind names what a service needs from its credential set.
type CredentialKind string

const (
	NeedUsername CredentialKind = "username"
	NeedPassword CredentialKind = "password"
	NeedAPIKey   CredentialKind = "api_key"
)

// Encoding selects how out-of-band login bodies are sent.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingForm Encoding = "form"
)

// KeyPlacement selects where a static API key travels.
type KeyPlacement string

const (
	KeyInQuery  KeyPlacement = "query"
	KeyInHeader KeyPlacement = "header"
)

// LoadState is the load event a navigation waits for.
type LoadState string

const (
	LoadNetworkIdle      LoadState = "networkidle"
	LoadDOMContentLoaded LoadState = "domcontentloaded"
)

// CredentialRef points a service at a named credential set and the fields it requires.
type CredentialRef struct {
	Set      string
	Requires []CredentialKind
}

// FormLogin describes an interactive login form. Selector lists are alternatives: any
// structural match is accepted because upstream markup is not standardized.
type FormLogin struct {
	Path              string
	Gate              string // visible text of an optional intermediate screen, clicked if present
	UsernameSelectors []string
	PasswordSelectors []string
	SubmitSelectors   []string
	AwayFrom          string // URL fragment that must disappear after submit
	Optional          bool   // absence of the form means the session is already established
}

// TokenAPI describes a JSON/form login endpoint returning a bearer-style token.
type TokenAPI struct {
	Path          string
	Encoding      Encoding
	UsernameField string
	PasswordField string
	TokenPath     string // gjson path into the response body
	Header        string
	HeaderFormat  string // fmt verb for the header value; "%s" when empty
	ExtraHeaders  map[string]string
}

// CookieBridge describes an out-of-band login whose cookies are replayed in the browser.
type CookieBridge struct {
	Path          string
	Encoding      Encoding
	UsernameField string // empty for password-only logins
	PasswordField string
	RejectBody    string // a 2xx body equal to this still means the login was refused
	SessionPath   string // gjson path to a session id carried in the body instead of Set-Cookie
	SessionCookie string // cookie name for SessionPath
	Fallback      *FormLogin
}

// APIKey describes a static key attached to navigation or requests.
type APIKey struct {
	Placement KeyPlacement
	Param     string
	Header    string
}

// Stabilization is the per-service readiness profile.
type Stabilization struct {
	Load         LoadState
	PreSettle    time.Duration // fixed wait before the deep sequence
	Deep         bool          // lazy images, carousels, placeholders
	Carousels    []string      // horizontally scrolling container selectors
	Placeholders []string      // overlay selectors hidden once images load
	Settle       time.Duration // final fixed settle before capture
}

// Marker is one alternative of a DOM success predicate: a CSS selector or visible text.
type Marker struct {
	Selector string
	Text     string
}

// Verification is the per-service success predicate.
type Verification struct {
	DeniedURL []string // URL substrings that mean "still unauthenticated"
	Markers   []Marker // at least one must become visible
}

// Service is an immutable service descriptor.
type Service struct {
	Name         string
	Port         int
	LoopbackOnly bool   // bound to 127.0.0.1 on the target; reached by VirtualHost when remote
	VirtualHost  string // name-based router hostname, "<name>.lan" by default
	Mechanism    Mechanism
	Credential   CredentialRef
	Landing      string
	Timeout      time.Duration // overall per-test budget; zero uses the harness default

	Form   *FormLogin
	Token  *TokenAPI
	Bridge *CookieBridge
	Key    *APIKey

	Stabilize Stabilization
	Verify    Verification
}

// Registry resolves logical service names to descriptors and addresses.
type Registry struct {
	targetHost string
	services   map[string]Service
}

// New builds a registry for targetHost from descriptors. Duplicate or malformed
// descriptors are configuration errors.
func New(targetHost string, services []Service) (*Registry, error) {
	if targetHost == "" {
		targetHost = "localhost"
	}
	r := &Registry{targetHost: targetHost, services: make(map[string]Service, len(services))}
	for _, svc := range services {
		if err := validate(svc); err != nil {
			return nil, err
		}
		if _, dup := r.services[svc.Name]; dup {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("duplicate service %q", svc.Name))
		}
		if svc.VirtualHost == "" {
			svc.VirtualHost = svc.Name + ".lan"
		}
		if svc.Landing == "" {
			svc.Landing = "/"
		}
		r.services[svc.Name] = svc
	}
	return r, nil
}

func validate(svc Service) error {
	if svc.Name == "" {
		return errs.New(errs.InvalidArgument, "service name is required")
	}
	if svc.Port <= 0 || svc.Port > 65535 {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("service %q: port %d out of range", svc.Name, svc.Port))
	}
	var ok bool
	switch svc.Mechanism {
	case MechanismForm:
		ok = svc.Form != nil
	case MechanismTokenAPI:
		ok = svc.Token != nil
	case MechanismCookieBridge:
		ok = svc.Bridge != nil
	case MechanismAPIKey:
		ok = svc.Key != nil
	default:
		return errs.New(errs.InvalidArgument, fmt.Sprintf("service %q: unknown mechanism %q", svc.Name, svc.Mechanism))
	}
	if !ok {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("service %q: mechanism %q has no parameters", svc.Name, svc.Mechanism))
	}
	return nil
}

// TargetHost returns the configured target host.
func (r *Registry) TargetHost() string {
	return r.targetHost
}

// Lookup returns the descriptor for name. Unknown names are configuration errors, not skips.
func (r *Registry) Lookup(name string) (Service, error) {
	svc, ok := r.services[name]
	if !ok {
		return Service{}, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown service %q", name))
	}
	return svc, nil
}

// MustLookup is Lookup for statically known names.
func (r *Registry) MustLookup(name string) Service {
	svc, err := r.Lookup(name)
	if err != nil {
		panic(err)
	}
	return svc
}

// Names returns all service names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BaseURL returns the base address of name.
func (r *Registry) BaseURL(name string) (string, error) {
	svc, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	return r.Resolve(svc), nil
}

// URL returns the absolute URL of path on name.
func (r *Registry) URL(name, path string) (string, error) {
	base, err := r.BaseURL(name)
	if err != nil {
		return "", err
	}
	return urlutil.BuildAbsolute(base, path), nil
}

// Resolve picks the addressing scheme for svc. The virtual hostname is used only for
// loopback-bound services and only when the target host is remote.
func (r *Registry) Resolve(svc Service) string {
	if svc.LoopbackOnly && !urlutil.IsLocalHost(r.targetHost) {
		host := svc.VirtualHost
		if host == "" {
			host = svc.Name + ".lan"
		}
		return "http://" + host
	}
	host := strings.Trim(r.targetHost, "[]")
	return "http://" + net.JoinHostPort(host, strconv.Itoa(svc.Port))
}
