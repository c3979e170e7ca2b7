package registry

import "time"

// Credential set names. Several services share one set (the request portal logs in with the
// media server's account).
const (
	SetJellyfin    = "jellyfin"
	SetSonarr      = "sonarr"
	SetRadarr      = "radarr"
	SetProwlarr    = "prowlarr"
	SetQBittorrent = "qbittorrent"
	SetSABnzbd     = "sabnzbd"
	SetBazarr      = "bazarr"
	SetPihole      = "pihole"
)

var (
	userPass    = []CredentialKind{NeedUsername, NeedPassword}
	passOnly    = []CredentialKind{NeedPassword}
	apiKeyOnly  = []CredentialKind{NeedAPIKey}
	notLogin    = []string{"login"}
	basicSettle = Stabilization{Load: LoadNetworkIdle, Settle: 500 * time.Millisecond}
)

// arrForm is the login form shared by the *arr family.
func arrForm() *FormLogin {
	return &FormLogin{
		Path:              "/login",
		UsernameSelectors: []string{`input[name="username"]`, `input[id="username"]`},
		PasswordSelectors: []string{`input[name="password"]`, `input[id="password"]`},
		SubmitSelectors:   []string{`button[type="submit"]`},
		AwayFrom:          "login",
	}
}

func arr(name string, port int, set string) Service {
	return Service{
		Name:       name,
		Port:       port,
		Mechanism:  MechanismForm,
		Credential: CredentialRef{Set: set, Requires: userPass},
		Form:       arrForm(),
		Stabilize:  basicSettle,
		Verify:     Verification{DeniedURL: notLogin},
	}
}

// DefaultServices returns the built-in descriptor table for the media stack.
func DefaultServices() []Service {
	return []Service{
		{
			Name:       "jellyfin",
			Port:       8096,
			Mechanism:  MechanismForm,
			Credential: CredentialRef{Set: SetJellyfin, Requires: userPass},
			Timeout:    60 * time.Second,
			Form: &FormLogin{
				Path:              "/",
				Gate:              "Manual Login",
				UsernameSelectors: []string{`input[id="txtManualName"]`, `input[name="username"]`, `input[placeholder*="ser"]`},
				PasswordSelectors: []string{`input[id="txtManualPassword"]`, `input[type="password"]`},
				SubmitSelectors:   []string{`button[type="submit"]`, `button:has-text("Sign in")`},
				AwayFrom:          "login",
				Optional:          true,
			},
			Stabilize: Stabilization{
				Load:         LoadNetworkIdle,
				PreSettle:    3 * time.Second,
				Deep:         true,
				Carousels:    []string{".itemsContainer", ".scrollSlider", `[class*="scroller"]`},
				Placeholders: []string{"canvas"},
				Settle:       time.Second,
			},
			Verify: Verification{DeniedURL: notLogin},
		},
		{
			Name:       "jellyfin-api",
			Port:       8096,
			Mechanism:  MechanismTokenAPI,
			Credential: CredentialRef{Set: SetJellyfin, Requires: userPass},
			Landing:    "/System/Info",
			Token: &TokenAPI{
				Path:          "/Users/AuthenticateByName",
				Encoding:      EncodingJSON,
				UsernameField: "Username",
				PasswordField: "Pw",
				TokenPath:     "AccessToken",
				Header:        "X-Emby-Token",
				ExtraHeaders: map[string]string{
					"X-Emby-Authorization": `MediaBrowser Client="stackcheck", Device="stackcheck", DeviceId="stackcheck", Version="1.0.0"`,
				},
			},
			Stabilize: basicSettle,
			Verify: Verification{
				DeniedURL: notLogin,
				Markers:   []Marker{{Text: "ServerName"}},
			},
		},
		arr("sonarr", 8989, SetSonarr),
		arr("radarr", 7878, SetRadarr),
		arr("prowlarr", 9696, SetProwlarr),
		{
			Name:       "qbittorrent",
			Port:       8085,
			Mechanism:  MechanismCookieBridge,
			Credential: CredentialRef{Set: SetQBittorrent, Requires: userPass},
			Bridge: &CookieBridge{
				Path:          "/api/v2/auth/login",
				Encoding:      EncodingForm,
				UsernameField: "username",
				PasswordField: "password",
				RejectBody:    "Fails.",
			},
			Stabilize: basicSettle,
			Verify: Verification{
				Markers: []Marker{{Text: "TORRENTS"}, {Text: "VueTorrent"}},
			},
		},
		{
			Name:       "sabnzbd",
			Port:       8082,
			Mechanism:  MechanismAPIKey,
			Credential: CredentialRef{Set: SetSABnzbd, Requires: apiKeyOnly},
			Key:        &APIKey{Placement: KeyInQuery, Param: "apikey"},
			Stabilize:  basicSettle,
			Verify: Verification{
				Markers: []Marker{{Selector: `h2:has-text("Queue")`}, {Selector: ".main-header"}, {Selector: ".sabnzbd"}},
			},
		},
		{
			Name:         "seerr",
			Port:         5055,
			LoopbackOnly: true,
			Mechanism:    MechanismCookieBridge,
			Credential:   CredentialRef{Set: SetJellyfin, Requires: userPass},
			Bridge: &CookieBridge{
				Path:          "/api/v1/auth/jellyfin",
				Encoding:      EncodingJSON,
				UsernameField: "username",
				PasswordField: "password",
			},
			Stabilize: Stabilization{Load: LoadNetworkIdle, Settle: 2 * time.Second},
			Verify:    Verification{DeniedURL: notLogin},
		},
		{
			Name:         "bazarr",
			Port:         6767,
			LoopbackOnly: true,
			Mechanism:    MechanismAPIKey,
			Credential:   CredentialRef{Set: SetBazarr, Requires: apiKeyOnly},
			Key:          &APIKey{Placement: KeyInHeader, Header: "X-API-KEY"},
			Stabilize:    Stabilization{Load: LoadDOMContentLoaded, Settle: 3 * time.Second},
			Verify:       Verification{DeniedURL: notLogin},
		},
		{
			Name:       "pihole",
			Port:       8081,
			Mechanism:  MechanismCookieBridge,
			Credential: CredentialRef{Set: SetPihole, Requires: passOnly},
			Landing:    "/admin/",
			Bridge: &CookieBridge{
				Path:          "/api/auth",
				Encoding:      EncodingJSON,
				PasswordField: "password",
				SessionPath:   "session.sid",
				SessionCookie: "sid",
				Fallback: &FormLogin{
					Path:              "/admin/",
					PasswordSelectors: []string{`input[type="password"]`},
					SubmitSelectors:   []string{`button:has-text("Log in")`, `button[type="submit"]`},
					Optional:          true,
				},
			},
			Stabilize: basicSettle,
			Verify: Verification{
				Markers: []Marker{
					{Selector: "#queries-over-time"},
					{Selector: "canvas"},
					{Selector: ".card"},
					{Selector: `[class*="dashboard"]`},
				},
			},
		},
	}
}

// Default returns a registry over DefaultServices for targetHost.
func Default(targetHost string) (*Registry, error) {
	return New(targetHost, DefaultServices())
}
