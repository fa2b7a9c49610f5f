package speedtest

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Prober decides whether a host answers HTTP at all.
type Prober interface {
	Probe(ctx context.Context, host string) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, host string) bool

func (f ProberFunc) Probe(ctx context.Context, host string) bool {
	return f(ctx, host)
}

// HTTPProber sends a single HEAD request to http://host/ without following
// redirects and without retrying.
type HTTPProber struct {
	Doer      *http.Client
	Timeout   time.Duration
	UserAgent string
}

// Reachable reports whether a probe response status marks the server alive.
// Any response below 500, client errors included, counts.
func Reachable(statusCode int) bool {
	return statusCode >= 200 && statusCode < 500
}

func (p *HTTPProber) Probe(ctx context.Context, host string) bool {
	if host == "" {
		return false
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, "http://"+host+"/", nil)
	if err != nil {
		dbg.Printf("probe %s: %v\n", host, err)
		return false
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	doer := http.DefaultClient
	if p.Doer != nil {
		doer = p.Doer
	}
	client := *doer
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := client.Do(req)
	if err != nil {
		dbg.Printf("probe %s: %v\n", host, err)
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	dbg.Printf("probe %s: status %d\n", host, resp.StatusCode)
	return Reachable(resp.StatusCode)
}

// Probe checks host reachability with the client's prober.
func (s *Speedtest) Probe(ctx context.Context, host string) bool {
	return s.prober.Probe(ctx, host)
}
