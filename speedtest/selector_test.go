package speedtest

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingProber answers from a fixed set of reachable hosts and records
// every probe in order.
type recordingProber struct {
	mu        sync.Mutex
	reachable map[string]bool
	delay     map[string]time.Duration
	probed    []string
}

func newRecordingProber(reachable ...string) *recordingProber {
	p := &recordingProber{reachable: map[string]bool{}, delay: map[string]time.Duration{}}
	for _, h := range reachable {
		p.reachable[h] = true
	}
	return p
}

func (p *recordingProber) Probe(ctx context.Context, host string) bool {
	p.mu.Lock()
	p.probed = append(p.probed, host)
	d := p.delay[host]
	p.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return false
		}
	}
	return p.reachable[host]
}

func (p *recordingProber) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.probed...)
}

func scenarioServers() Servers {
	return Servers{
		{Host: "a.example", Country: "US", City: "NYC"},
		{Host: "b.example", Country: "US", City: "LA"},
		{Host: "c.example", Country: "FR", City: "Paris"},
	}
}

func TestSelectBestScenario(t *testing.T) {
	loc := &Location{Country: "US", City: "LA"}
	testData := []struct {
		name      string
		reachable []string
		want      string
		tier      Tier
		probed    []string
	}{
		{"tier1", []string{"a.example", "b.example", "c.example"}, "b.example", TierCityCountry, []string{"b.example"}},
		{"tier2", []string{"a.example", "c.example"}, "a.example", TierCountry, []string{"b.example", "a.example"}},
		{"tier3", []string{"c.example"}, "c.example", TierAny, []string{"b.example", "a.example", "c.example"}},
	}
	for _, tt := range testData {
		t.Run(tt.name, func(t *testing.T) {
			prober := newRecordingProber(tt.reachable...)
			c := New(WithProber(prober))
			sel, err := c.SelectBest(context.Background(), scenarioServers(), loc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sel.Server.Host != tt.want {
				t.Errorf("got: %s, expected %s", sel.Server.Host, tt.want)
			}
			if sel.Tier != tt.tier {
				t.Errorf("got: %s, expected %s", sel.Tier, tt.tier)
			}
			if got := prober.calls(); !reflect.DeepEqual(got, tt.probed) {
				t.Errorf("got probes: %v, expected %v", got, tt.probed)
			}
			if !reflect.DeepEqual(sel.Probed, tt.probed) {
				t.Errorf("got selection probes: %v, expected %v", sel.Probed, tt.probed)
			}
		})
	}
}

func TestSelectBestNoneReachable(t *testing.T) {
	prober := newRecordingProber()
	c := New(WithProber(prober))
	sel, err := c.SelectBest(context.Background(), scenarioServers(), &Location{Country: "US", City: "LA"})
	if !errors.Is(err, ErrNoServerFound) {
		t.Fatalf("got: %v, expected %v", err, ErrNoServerFound)
	}
	if sel.Server != nil {
		t.Errorf("expected no server, got %v", sel.Server)
	}
	// every candidate exactly once
	want := []string{"b.example", "a.example", "c.example"}
	if got := prober.calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("got probes: %v, expected %v", got, want)
	}
}

func TestSelectBestTierOrdering(t *testing.T) {
	servers := Servers{
		{Host: "far.example", Country: "JP", City: "Tokyo"},
		{Host: "near.example", Country: "US", City: "LA"},
	}
	prober := newRecordingProber("far.example", "near.example")
	sel, err := New(WithProber(prober)).SelectBest(context.Background(), servers, &Location{Country: "US", City: "LA"})
	if err != nil {
		t.Fatal(err)
	}
	if sel.Server.Host != "near.example" {
		t.Errorf("got: %s, expected near.example", sel.Server.Host)
	}
	if got := prober.calls(); !reflect.DeepEqual(got, []string{"near.example"}) {
		t.Errorf("tier 3 candidate probed: %v", got)
	}
}

func TestSelectBestNoHint(t *testing.T) {
	for _, loc := range []*Location{nil, {}} {
		prober := newRecordingProber("c.example")
		sel, err := New(WithProber(prober)).SelectBest(context.Background(), scenarioServers(), loc)
		if err != nil {
			t.Fatal(err)
		}
		if sel.Tier != TierAny {
			t.Errorf("got: %s, expected %s", sel.Tier, TierAny)
		}
		want := []string{"a.example", "b.example", "c.example"}
		if got := prober.calls(); !reflect.DeepEqual(got, want) {
			t.Errorf("got probes: %v, expected %v", got, want)
		}
	}
}

func TestSelectBestEmptyLocality(t *testing.T) {
	servers := Servers{
		{Host: "x.example"},
		{Host: "y.example", Country: "US"},
	}
	loc := &Location{Country: "US", City: "LA"}

	prober := newRecordingProber("x.example")
	sel, err := New(WithProber(prober)).SelectBest(context.Background(), servers, loc)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Server.Host != "x.example" || sel.Tier != TierAny {
		t.Errorf("got: %s at %s, expected x.example at any", sel.Server.Host, sel.Tier)
	}
	// y matches on country only, x has no locality and waits for the last tier
	want := []string{"y.example", "x.example"}
	if got := prober.calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("got probes: %v, expected %v", got, want)
	}

	prober = newRecordingProber("x.example", "y.example")
	sel, err = New(WithProber(prober)).SelectBest(context.Background(), servers, loc)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Server.Host != "y.example" || sel.Tier != TierCountry {
		t.Errorf("got: %s at %s, expected y.example at country", sel.Server.Host, sel.Tier)
	}
	if got := prober.calls(); !reflect.DeepEqual(got, []string{"y.example"}) {
		t.Errorf("got probes: %v, expected [y.example]", got)
	}
}

func TestSelectBestCountryOnlyHint(t *testing.T) {
	prober := newRecordingProber("b.example", "c.example")
	sel, err := New(WithProber(prober)).SelectBest(context.Background(), scenarioServers(), &Location{Country: "US"})
	if err != nil {
		t.Fatal(err)
	}
	if sel.Server.Host != "b.example" || sel.Tier != TierCountry {
		t.Errorf("got: %s at %s, expected b.example at country", sel.Server.Host, sel.Tier)
	}
	if got := prober.calls(); !reflect.DeepEqual(got, []string{"a.example", "b.example"}) {
		t.Errorf("unexpected probes: %v", got)
	}
}

func TestSelectBestSkipsMalformed(t *testing.T) {
	list, err := ParseServerList(strings.NewReader(`[
		{"host": "one.example", "country": "US", "city": "NYC"},
		{"country": "US", "city": "NYC"},
		{"host": "three.example", "country": "US", "city": "NYC"}
	]`))
	if err != nil {
		t.Fatal(err)
	}
	list.Servers = append(list.Servers, &Server{Country: "US", City: "NYC"}, nil)

	prober := newRecordingProber("three.example")
	sel, err := New(WithProber(prober)).SelectBest(context.Background(), list.Servers, &Location{Country: "US", City: "NYC"})
	if err != nil {
		t.Fatal(err)
	}
	if sel.Server.Host != "three.example" {
		t.Errorf("got: %s, expected three.example", sel.Server.Host)
	}
	for _, h := range prober.calls() {
		if h == "" {
			t.Error("server without host was probed")
		}
	}
}

func TestSelectBestEmptyList(t *testing.T) {
	prober := newRecordingProber()
	_, err := New(WithProber(prober)).SelectBest(context.Background(), nil, &Location{Country: "US"})
	if !errors.Is(err, ErrNoServerFound) {
		t.Errorf("got: %v, expected %v", err, ErrNoServerFound)
	}
	if len(prober.calls()) != 0 {
		t.Error("nothing should be probed")
	}
}

func TestSelectBestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	prober := newRecordingProber("a.example")
	_, err := New(WithProber(prober)).SelectBest(ctx, scenarioServers(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got: %v, expected %v", err, context.Canceled)
	}
	if len(prober.calls()) != 0 {
		t.Errorf("probed after cancellation: %v", prober.calls())
	}
}

func TestSelectBestParallel(t *testing.T) {
	servers := Servers{
		{Host: "slow-ok.example", Country: "US", City: "LA"},
		{Host: "fast-ok.example", Country: "US", City: "LA"},
		{Host: "down.example", Country: "US", City: "LA"},
		{Host: "paris.example", Country: "FR", City: "Paris"},
	}
	prober := newRecordingProber("slow-ok.example", "fast-ok.example", "paris.example")
	prober.delay["slow-ok.example"] = 50 * time.Millisecond

	c := New(WithProber(prober), WithUserConfig(&UserConfig{ProbeConcurrency: 3}))
	sel, err := c.SelectBest(context.Background(), servers, &Location{Country: "US", City: "LA"})
	if err != nil {
		t.Fatal(err)
	}
	// the lower index wins even though it answered later
	if sel.Server.Host != "slow-ok.example" {
		t.Errorf("got: %s, expected slow-ok.example", sel.Server.Host)
	}
	if sel.Tier != TierCityCountry {
		t.Errorf("got: %s, expected %s", sel.Tier, TierCityCountry)
	}

	seen := map[string]int{}
	for _, h := range prober.calls() {
		seen[h]++
	}
	for h, n := range seen {
		if n > 1 {
			t.Errorf("%s probed %d times", h, n)
		}
	}
	if seen["paris.example"] != 0 {
		t.Error("lower tier probed after a higher tier succeeded")
	}
}

func TestSelectBestParallelFallsThrough(t *testing.T) {
	prober := newRecordingProber("c.example")
	c := New(WithProber(prober), WithUserConfig(&UserConfig{ProbeConcurrency: 4}))
	sel, err := c.SelectBest(context.Background(), scenarioServers(), &Location{Country: "US", City: "LA"})
	if err != nil {
		t.Fatal(err)
	}
	if sel.Server.Host != "c.example" || sel.Tier != TierAny {
		t.Errorf("got: %v, expected c.example at any", sel)
	}
	if len(sel.Probed) != 3 {
		t.Errorf("got: %v, expected 3 probes", sel.Probed)
	}
}

func TestTierString(t *testing.T) {
	for tier, want := range map[Tier]string{
		TierCityCountry: "city+country",
		TierCountry:     "country",
		TierAny:         "any",
		TierNone:        "none",
	} {
		if got := tier.String(); got != want {
			t.Errorf("got: %s, expected %s", got, want)
		}
	}
}
