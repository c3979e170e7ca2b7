package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/stackcheck/internal/browser/browsertest"
	"github.com/kuitang/stackcheck/internal/config"
	"github.com/kuitang/stackcheck/internal/errs"
)

func TestMain(m *testing.M) {
	code := m.Run()
	browsertest.Shutdown()
	os.Exit(code)
}

// =============================================================================
// Browser-backed establishment against fake services
// =============================================================================

type seenRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
}

// recorder keeps every request a fake service received.
type recorder struct {
	mu   sync.Mutex
	reqs []seenRequest
}

func (rec *recorder) add(r *http.Request) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.reqs = append(rec.reqs, seenRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone()})
}

func (rec *recorder) last(method, path string) (seenRequest, bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i := len(rec.reqs) - 1; i >= 0; i-- {
		if rec.reqs[i].Method == method && rec.reqs[i].Path == path {
			return rec.reqs[i], true
		}
	}
	return seenRequest{}, false
}

func (rec *recorder) count(method, path string) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	n := 0
	for _, r := range rec.reqs {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func fakeService(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, "<!doctype html><html><body>"+body+"</body></html>")
}

func hasCookie(r *http.Request, name, value string) bool {
	c, err := r.Cookie(name)
	return err == nil && c.Value == value
}

var browserOpts = Options{GateTimeout: time.Second, VisibilityTimeout: 3 * time.Second}

// establish runs the full two-phase flow for the named built-in service in a fresh page.
func establish(t *testing.T, name, base string, cred config.Credential) (*Session, playwright.Page, error) {
	t.Helper()
	browsertest.Launcher(t)
	svc := lookup(t, name)
	strategy, err := NewEstablisher(NewHTTPClient(nil, false), browserOpts).For(svc)
	if err != nil {
		t.Fatalf("For(%s): %v", name, err)
	}
	ctx := context.Background()
	tgt := target(t, svc, base, cred)

	sess, err := strategy.Prepare(ctx, tgt)
	if err != nil {
		return nil, nil, err
	}
	bctx, page := browsertest.NewPage(t)
	if err := sess.Apply(ctx, bctx); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return sess, page, strategy.Interact(ctx, page, tgt)
}

// arrLogin serves an *arr-style login. idShape renders fields with ids only, the
// alternative markup the descriptor also accepts.
func arrLogin(idShape bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/login" && r.Method == http.MethodGet:
			fields := `<input name="username"><input name="password" type="password">`
			if idShape {
				fields = `<input id="username"><input id="password" type="password">`
			}
			writeHTML(w, `<form method="post" action="/login" onsubmit="
				this.querySelector('[data-u]').value = document.querySelector('#username, [name=username]').value;
				this.querySelector('[data-p]').value = document.querySelector('#password, [name=password]').value;">`+
				fields+`<input type="hidden" name="u" data-u><input type="hidden" name="p" data-p>
				<button type="submit">Log in</button></form>`)
		case r.URL.Path == "/login" && r.Method == http.MethodPost:
			if r.FormValue("u") == "admin" && r.FormValue("p") == "secret" {
				http.SetCookie(w, &http.Cookie{Name: "arr_auth", Value: "ok", Path: "/"})
				http.Redirect(w, r, "/", http.StatusSeeOther)
				return
			}
			http.Redirect(w, r, "/login?loginFailed=true", http.StatusSeeOther)
		case r.URL.Path == "/":
			if !hasCookie(r, "arr_auth", "ok") {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			writeHTML(w, `<h1>Series</h1>`)
		default:
			http.NotFound(w, r)
		}
	}
}

func TestFormStrategy_LogsInAndLeavesLoginPage(t *testing.T) {
	for _, shape := range []struct {
		name    string
		idShape bool
	}{
		{"name attributes", false},
		{"id attributes", true},
	} {
		t.Run(shape.name, func(t *testing.T) {
			srv, rec := fakeService(t, arrLogin(shape.idShape))
			_, page, err := establish(t, "sonarr", srv.URL, config.Credential{Username: "admin", Password: "secret"})
			if err != nil {
				t.Fatalf("form login: %v", err)
			}
			if strings.Contains(page.URL(), "login") {
				t.Fatalf("still on login page: %s", page.URL())
			}
			if rec.count(http.MethodPost, "/login") != 1 {
				t.Fatalf("expected one login POST, got %d", rec.count(http.MethodPost, "/login"))
			}
		})
	}
}

func TestFormStrategy_RejectedCredentialsStayOnLogin(t *testing.T) {
	srv, _ := fakeService(t, arrLogin(false))
	_, _, err := establish(t, "radarr", srv.URL, config.Credential{Username: "admin", Password: "wrong"})
	if !errs.Is(err, errs.AuthFailed) {
		t.Fatalf("expected auth_failed, got %v", err)
	}
}

// mediaServer mimics the media server's web client: "/" redirects to the login page,
// which may first show a user picker with a "Manual Login" button.
func mediaServer(gate bool, authenticated bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/":
			if authenticated || hasCookie(r, "jf", "ok") {
				http.Redirect(w, r, "/web/home.html", http.StatusSeeOther)
				return
			}
			http.Redirect(w, r, "/web/login.html", http.StatusSeeOther)
		case r.URL.Path == "/web/login.html":
			if gate {
				writeHTML(w, `<button type="button" onclick="document.getElementById('manual').style.display='block'">Manual Login</button>
					<form id="manual" style="display:none" method="post" action="/web/auth">
					<input id="txtManualName" name="user"><input id="txtManualPassword" name="pw" type="password">
					<button type="submit">Sign In</button></form>`)
				return
			}
			writeHTML(w, `<form method="post" action="/web/auth">
				<input name="username" placeholder="User"><input type="password" name="pw">
				<button type="submit">Sign In</button></form>`)
		case r.URL.Path == "/web/auth" && r.Method == http.MethodPost:
			user := r.FormValue("user")
			if user == "" {
				user = r.FormValue("username")
			}
			if user != "admin" || r.FormValue("pw") != "secret" {
				http.Redirect(w, r, "/web/login.html?failed=1", http.StatusSeeOther)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "jf", Value: "ok", Path: "/"})
			http.Redirect(w, r, "/web/home.html", http.StatusSeeOther)
		case r.URL.Path == "/web/home.html":
			writeHTML(w, `<div class="itemsContainer">Home</div>`)
		default:
			http.NotFound(w, r)
		}
	}
}

func TestFormStrategy_PresenceGate(t *testing.T) {
	for _, tc := range []struct {
		name string
		gate bool
	}{
		{"gate shown", true},
		{"gate absent", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv, rec := fakeService(t, mediaServer(tc.gate, false))
			_, page, err := establish(t, "jellyfin", srv.URL, config.Credential{Username: "admin", Password: "secret"})
			if err != nil {
				t.Fatalf("login: %v", err)
			}
			if !strings.HasSuffix(page.URL(), "/web/home.html") {
				t.Fatalf("landed on %s", page.URL())
			}
			if rec.count(http.MethodPost, "/web/auth") != 1 {
				t.Fatalf("expected one login POST, got %d", rec.count(http.MethodPost, "/web/auth"))
			}
		})
	}
}

func TestFormStrategy_OptionalFormAbsent(t *testing.T) {
	srv, rec := fakeService(t, mediaServer(false, true))
	start := time.Now()
	_, _, err := establish(t, "jellyfin", srv.URL, config.Credential{Username: "admin", Password: "secret"})
	if err != nil {
		t.Fatalf("already-authenticated page should not fail: %v", err)
	}
	if rec.count(http.MethodPost, "/web/auth") != 0 {
		t.Fatal("no form was shown, yet a login was posted")
	}
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Fatalf("absent form waited %s", elapsed)
	}
}

func TestBridgeStrategy_CookiesReachService(t *testing.T) {
	srv, rec := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v2/auth/login":
			if r.FormValue("username") != "admin" || r.FormValue("password") != "secret" {
				_, _ = io.WriteString(w, "Fails.")
				return
			}
			w.Header().Add("Set-Cookie", "SID=abc=def; HttpOnly; path=/")
			_, _ = io.WriteString(w, "Ok.")
		default:
			writeHTML(w, `<div>TORRENTS</div>`)
		}
	})
	_, page, err := establish(t, "qbittorrent", srv.URL, config.Credential{Username: "admin", Password: "secret"})
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	if _, err := page.Goto(srv.URL + "/"); err != nil {
		t.Fatalf("goto: %v", err)
	}
	got, ok := rec.last(http.MethodGet, "/")
	if !ok {
		t.Fatal("landing page never requested")
	}
	if !strings.Contains(got.Header.Get("Cookie"), "SID=abc=def") {
		t.Fatalf("bridged cookie not sent, Cookie: %q", got.Header.Get("Cookie"))
	}
}

// piholeAdmin serves an admin page that requires the sid cookie and otherwise shows a
// password-only login form. apiAccepts controls the out-of-band login.
func piholeAdmin(apiAccepts bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/auth":
			if !apiAccepts {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"session":{"valid":false}}`)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"session":{"valid":true,"sid":"api-sid"}}`)
		case r.URL.Path == "/admin/login" && r.Method == http.MethodPost:
			if r.FormValue("pw") != "secret" {
				http.Redirect(w, r, "/admin/", http.StatusSeeOther)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "form-sid", Path: "/"})
			http.Redirect(w, r, "/admin/", http.StatusSeeOther)
		case r.URL.Path == "/admin/":
			if hasCookie(r, "sid", "api-sid") || hasCookie(r, "sid", "form-sid") {
				writeHTML(w, `<div class="card">Total queries</div>`)
				return
			}
			writeHTML(w, `<form method="post" action="/admin/login"><input type="password" name="pw">
				<button type="submit">Log in</button></form>`)
		default:
			http.NotFound(w, r)
		}
	}
}

func TestBridgeStrategy_SessionCookieSkipsFallbackForm(t *testing.T) {
	srv, rec := fakeService(t, piholeAdmin(true))
	_, page, err := establish(t, "pihole", srv.URL, config.Credential{Password: "secret"})
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	if rec.count(http.MethodPost, "/admin/login") != 0 {
		t.Fatal("fallback form used although the API session was accepted")
	}
	got, ok := rec.last(http.MethodGet, "/admin/")
	if !ok || !strings.Contains(got.Header.Get("Cookie"), "sid=api-sid") {
		t.Fatalf("session cookie not sent: %+v", got.Header)
	}
	if err := page.Locator(".card").WaitFor(); err != nil {
		t.Fatalf("dashboard not shown: %v", err)
	}
}

func TestBridgeStrategy_RejectedLoginFallsBackToForm(t *testing.T) {
	srv, rec := fakeService(t, piholeAdmin(false))
	_, page, err := establish(t, "pihole", srv.URL, config.Credential{Password: "secret"})
	if err != nil {
		t.Fatalf("fallback form: %v", err)
	}
	if rec.count(http.MethodPost, "/api/auth") != 1 {
		t.Fatal("out-of-band login not attempted")
	}
	if rec.count(http.MethodPost, "/admin/login") != 1 {
		t.Fatal("fallback form not submitted")
	}
	if err := page.Locator(".card").WaitFor(playwright.LocatorWaitForOptions{Timeout: playwright.Float(5000)}); err != nil {
		t.Fatalf("dashboard not shown after fallback: %v", err)
	}
}

func TestAPIKeyStrategy_HeaderRouteCoversEveryRequest(t *testing.T) {
	srv, rec := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app.js":
			w.Header().Set("Content-Type", "text/javascript")
			_, _ = io.WriteString(w, `document.title = "loaded";`)
		default:
			writeHTML(w, `<h1>Bazarr</h1><script src="/app.js"></script>`)
		}
	})
	_, page, err := establish(t, "bazarr", srv.URL, config.Credential{APIKey: "bazarr-key"})
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if _, err := page.Goto(srv.URL+"/", playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateLoad}); err != nil {
		t.Fatalf("goto: %v", err)
	}
	for _, path := range []string{"/", "/app.js"} {
		got, ok := rec.last(http.MethodGet, path)
		if !ok {
			t.Fatalf("%s never requested", path)
		}
		if got.Header.Get("X-Api-Key") != "bazarr-key" {
			t.Fatalf("%s sent without the key header: %v", path, got.Header)
		}
	}
}

func TestAPIKeyStrategy_QueryOnNavigation(t *testing.T) {
	srv, rec := fakeService(t, func(w http.ResponseWriter, r *http.Request) {
		writeHTML(w, `<div class="main-header">SABnzbd</div>`)
	})
	sess, page, err := establish(t, "sabnzbd", srv.URL, config.Credential{APIKey: "sab-key"})
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if _, err := page.Goto(sess.URL(srv.URL + "/")); err != nil {
		t.Fatalf("goto: %v", err)
	}
	got, ok := rec.last(http.MethodGet, "/")
	if !ok {
		t.Fatal("landing page never requested")
	}
	if got.Query.Get("apikey") != "sab-key" {
		t.Fatalf("apikey query missing: %v", got.Query)
	}
	if got.Header.Get("X-Api-Key") != "" {
		t.Fatal("query placement should not add a header")
	}
}
