package speedtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/oschwald/geoip2-golang"
)

// maxLocationBody bounds how much of a geolocation response is read.
const maxLocationBody = 1 << 20

// Resolver produces a location hint for the caller.
type Resolver interface {
	Resolve(ctx context.Context) (*Location, error)
}

// HTTPResolver queries a geolocation service returning a JSON object with
// optional string fields "country" and "city".
type HTTPResolver struct {
	URL       string
	Doer      *http.Client
	Timeout   time.Duration
	UserAgent string
}

func (r *HTTPResolver) Resolve(ctx context.Context) (*Location, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultLocationTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := r.URL
	if endpoint == "" {
		endpoint = DefaultLocationURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	doer := r.Doer
	if doer == nil {
		doer = http.DefaultClient
	}
	resp, err := doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("location lookup: unexpected status %d", resp.StatusCode)
	}

	var fields map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxLocationBody)).Decode(&fields); err != nil {
		return nil, fmt.Errorf("location lookup: %w", err)
	}

	loc := &Location{}
	if country, ok := fields["country"].(string); ok {
		loc.Country = country
	}
	if city, ok := fields["city"].(string); ok {
		loc.City = city
	}
	if loc.empty() {
		return nil, ErrNoLocation
	}
	return loc, nil
}

// GeoIPResolver looks IP up in a local MaxMind City database.
type GeoIPResolver struct {
	DBPath string
	IP     net.IP
	// Language selects the localized names, "en" when empty.
	Language string
}

func (r *GeoIPResolver) Resolve(ctx context.Context) (*Location, error) {
	if r.IP == nil {
		return nil, fmt.Errorf("geoip: %w: no address to look up", ErrNoLocation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := geoip2.Open(r.DBPath)
	if err != nil {
		return nil, fmt.Errorf("geoip: %w", err)
	}
	defer db.Close()

	record, err := db.City(r.IP)
	if err != nil {
		return nil, fmt.Errorf("geoip: %w", err)
	}
	lang := r.Language
	if lang == "" {
		lang = "en"
	}
	loc := &Location{
		Country: record.Country.Names[lang],
		City:    record.City.Names[lang],
	}
	if loc.empty() {
		return nil, ErrNoLocation
	}
	return loc, nil
}

// ChainResolver returns the first hint any of its resolvers produces.
type ChainResolver []Resolver

func (c ChainResolver) Resolve(ctx context.Context) (*Location, error) {
	lastErr := ErrNoLocation
	for _, r := range c {
		loc, err := r.Resolve(ctx)
		if err == nil && !loc.empty() {
			return loc, nil
		}
		if err != nil {
			dbg.Printf("resolver %T: %v\n", r, err)
			lastErr = err
		}
	}
	return nil, lastErr
}

// ResolveLocation returns the caller's location or nil when it cannot be
// determined. Failure is never fatal: selection simply widens.
func (s *Speedtest) ResolveLocation(ctx context.Context) *Location {
	loc, err := s.resolver.Resolve(ctx)
	if err != nil {
		dbg.Printf("location detection failed: %v\n", err)
		return nil
	}
	return loc
}

// ResolveLocation uses defaultClient to detect the caller's location.
func ResolveLocation(ctx context.Context) *Location {
	return defaultClient.ResolveLocation(ctx)
}
