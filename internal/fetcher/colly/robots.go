package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/JakeFAU/search-fetch/internal/metrics"
)

const (
	robotsFallbackReasonTLSHandshake = "TLS handshake timeout"
)

// robotsAwareTransport lets robots.txt lookups degrade to allow-all when the
// host cannot complete a TLS handshake, instead of failing the page fetch.
type robotsAwareTransport struct {
	base  http.RoundTripper
	state *robotsCheckState
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if t.state == nil || !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.state.roundTrip(req, t.base)
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

type robotsCheckState struct {
	mu       sync.Mutex
	fallback bool
	why      string
}

func newRobotsCheckState() *robotsCheckState {
	return &robotsCheckState{}
}

func (s *robotsCheckState) indeterminate() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

func (s *robotsCheckState) reason() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.why
}

// roundTrip makes a single robots.txt attempt. Fetches are never retried, so
// a transient TLS failure falls back to an allow-all policy immediately.
func (s *robotsCheckState) roundTrip(req *http.Request, base http.RoundTripper) (*http.Response, error) {
	resp, err := base.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	if !isTransientTLSError(err) {
		return nil, fmt.Errorf("robots roundtrip: %w", err)
	}
	s.markIndeterminate(robotsFallbackReasonTLSHandshake)
	return syntheticRobotsAllowAllResponse(req), nil
}

func (s *robotsCheckState) markIndeterminate(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallback {
		return
	}
	s.fallback = true
	s.why = reason
	metrics.ObserveRobotsTLSHandshakeTimeout()
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
