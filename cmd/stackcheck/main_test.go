package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kuitang/stackcheck/internal/config"
	"github.com/kuitang/stackcheck/internal/registry"
)

func TestWriteServices(t *testing.T) {
	reg, err := registry.Default("nas.home")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	creds := config.Credentials{
		registry.SetSonarr: {Username: "u", Password: "p", APIKey: "k"},
	}

	var buf bytes.Buffer
	writeServices(&buf, reg, creds)
	lines := map[string]string{}
	for _, line := range strings.Split(buf.String(), "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			lines[fields[0]] = line
		}
	}

	cases := map[string][]string{
		"sonarr": {"http://nas.home:8989", "ready"},
		"radarr": {"skip (radarr: no username, password)"},
		"bazarr": {"http://bazarr.lan", "skip (bazarr: no api_key)"},
		"seerr":  {"http://seerr.lan"},
		"vpn":    {"http://nas.home:8989/api/v3/system/status", "ready"},
	}
	for name, wants := range cases {
		line, ok := lines[name]
		if !ok {
			t.Fatalf("no line for %s in:\n%s", name, buf.String())
		}
		for _, want := range wants {
			if !strings.Contains(line, want) {
				t.Errorf("%s: line %q missing %q", name, line, want)
			}
		}
	}
}

func TestReadiness_APIKeyOnlySet(t *testing.T) {
	ref := registry.CredentialRef{Set: registry.SetSABnzbd, Requires: []registry.CredentialKind{registry.NeedAPIKey}}
	if got := readiness(ref, config.Credentials{registry.SetSABnzbd: {APIKey: "x"}}); got != "ready" {
		t.Fatalf("readiness = %q", got)
	}
	if got := readiness(ref, nil); got != "skip (sabnzbd: no api_key)" {
		t.Fatalf("readiness = %q", got)
	}
}
