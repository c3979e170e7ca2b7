package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordResult_OneHotStatus(t *testing.T) {
	m := NewMetrics()
	m.RecordResult("sonarr", "ui", "pass", 2.5)
	m.RecordResult("sonarr", "ui", "fail", 3)

	if got := testutil.ToFloat64(m.Result.WithLabelValues("sonarr", "ui", "fail")); got != 1 {
		t.Fatalf("fail gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.Result.WithLabelValues("sonarr", "ui", "pass")); got != 0 {
		t.Fatalf("pass gauge = %v after a later failure", got)
	}
	if got := testutil.ToFloat64(m.Duration.WithLabelValues("sonarr", "ui")); got != 3 {
		t.Fatalf("duration = %v", got)
	}
}

func TestInstrumentRoundTripper_CountsRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	m := NewMetrics()
	client := &http.Client{Transport: m.InstrumentRoundTripper(http.DefaultTransport)}
	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("418", "get")); got != 3 {
		t.Fatalf("requests counted = %v", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.RecordResult("vpn", "api", "skip", 0)
	m.RecordRun(0, 1, 1700000000)

	path := filepath.Join(t.TempDir(), "stackcheck.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		`stackcheck_result{check="vpn",kind="api",status="skip"} 1`,
		`stackcheck_skipped_checks 1`,
		`stackcheck_last_run_timestamp_seconds 1.7e+09`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("textfile missing %q:\n%s", want, text)
		}
	}
}
