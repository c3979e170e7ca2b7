package obs

import (
	"net/http"
	"time"

	"github.com/kuitang/stackcheck/internal/logutil"
)

// LoggingTransport emits one structured event per outgoing request.
type LoggingTransport struct {
	Next http.RoundTripper
	Pkg  string
}

// NewLoggingTransport wraps next, defaulting to http.DefaultTransport.
func NewLoggingTransport(pkg string, next http.RoundTripper) *LoggingTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &LoggingTransport{Next: next, Pkg: pkg}
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Next.RoundTrip(req)
	durMS := float64(time.Since(start).Microseconds()) / 1000.0

	l := From(req.Context()).With("pkg", t.Pkg)
	if err != nil {
		l.Warn(
			"http_client",
			"method", req.Method,
			"url", logutil.RedactURL(req.URL),
			"dur_ms", durMS,
			"error", err,
		)
		return nil, err
	}

	reqBytes := int64(0)
	if req.ContentLength > 0 {
		reqBytes = req.ContentLength
	}
	l.Debug(
		"http_client",
		"method", req.Method,
		"url", logutil.RedactURL(req.URL),
		"status", resp.StatusCode,
		"dur_ms", durMS,
		"req_bytes", reqBytes,
		"req_headers", logutil.FormatHeadersForLog(req.Header),
	)
	return resp, nil
}
