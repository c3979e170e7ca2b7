package ratelimit

import (
	"net/http"
)

// Transport waits on the per-host limiter before every request.
type Transport struct {
	Limiter *RateLimiter
	Next    http.RoundTripper
}

// NewTransport wraps next, defaulting to http.DefaultTransport.
func NewTransport(limiter *RateLimiter, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{Limiter: limiter, Next: next}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(req.Context(), req.URL.Host); err != nil {
			return nil, err
		}
	}
	return t.Next.RoundTrip(req)
}
