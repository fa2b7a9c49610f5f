package speedtest

import (
	"context"
	"fmt"
)

// Tier is the priority level a server was selected at.
type Tier int

const (
	TierNone Tier = iota
	TierCityCountry
	TierCountry
	TierAny
)

func (t Tier) String() string {
	switch t {
	case TierCityCountry:
		return "city+country"
	case TierCountry:
		return "country"
	case TierAny:
		return "any"
	default:
		return "none"
	}
}

// Selection is the outcome of SelectBest.
type Selection struct {
	Server *Server
	Tier   Tier
	// Probed lists every probed host in probe order.
	Probed []string
}

type tier struct {
	level   Tier
	enabled func(loc *Location) bool
	match   func(s *Server, loc *Location) bool
}

// tiers are tried in order; each one excludes what an earlier tier already probed.
var tiers = []tier{
	{
		level:   TierCityCountry,
		enabled: func(loc *Location) bool { return loc.HasCountry() && loc.HasCity() },
		match: func(s *Server, loc *Location) bool {
			return s.Country == loc.Country && s.City == loc.City
		},
	},
	{
		level:   TierCountry,
		enabled: func(loc *Location) bool { return loc.HasCountry() },
		match: func(s *Server, loc *Location) bool {
			if s.Country != loc.Country {
				return false
			}
			return !loc.HasCity() || s.City != loc.City
		},
	},
	{
		level:   TierAny,
		enabled: func(loc *Location) bool { return true },
		match: func(s *Server, loc *Location) bool {
			return !loc.HasCountry() || s.Country != loc.Country
		},
	},
}

// SelectBest picks the first reachable server, preferring servers in the
// caller's city, then country, then anywhere. A server is probed at most once
// and scanning stops at the first reachable one. loc may be nil.
func (s *Speedtest) SelectBest(ctx context.Context, servers Servers, loc *Location) (*Selection, error) {
	if loc == nil {
		loc = &Location{}
	}
	sel := &Selection{}
	for _, t := range tiers {
		if !t.enabled(loc) {
			continue
		}
		var qualified Servers
		for _, server := range servers {
			if server.usable() && t.match(server, loc) {
				qualified = append(qualified, server)
			}
		}
		dbg.Printf("tier %s: %d candidates\n", t.level, len(qualified))

		var found *Server
		var probed []string
		if s.config.ProbeConcurrency > 1 {
			found, probed = s.scanParallel(ctx, qualified, s.config.ProbeConcurrency)
		} else {
			found, probed = s.scan(ctx, qualified)
		}
		sel.Probed = append(sel.Probed, probed...)
		if found != nil {
			sel.Server = found
			sel.Tier = t.level
			return sel, nil
		}
		if err := ctx.Err(); err != nil {
			return sel, err
		}
	}
	return sel, ErrNoServerFound
}

// SelectBest uses defaultClient to pick a server.
func SelectBest(ctx context.Context, servers Servers, loc *Location) (*Selection, error) {
	return defaultClient.SelectBest(ctx, servers, loc)
}

func (s *Speedtest) scan(ctx context.Context, candidates Servers) (*Server, []string) {
	var probed []string
	for _, server := range candidates {
		if ctx.Err() != nil {
			break
		}
		probed = append(probed, server.Host)
		if s.prober.Probe(ctx, server.Host) {
			return server, probed
		}
	}
	return nil, probed
}

type probeOutcome struct {
	started   bool
	reachable bool
}

// scanParallel probes up to limit candidates at once. The lowest-index
// reachable candidate wins once every candidate before it has resolved;
// probes still running are then cancelled.
func (s *Speedtest) scanParallel(ctx context.Context, candidates Servers, limit int) (*Server, []string) {
	if len(candidates) == 0 {
		return nil, nil
	}
	tierCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make([]chan probeOutcome, len(candidates))
	for i := range outcomes {
		outcomes[i] = make(chan probeOutcome, 1)
	}
	sem := make(chan struct{}, limit)

	go func() {
		for i, server := range candidates {
			select {
			case sem <- struct{}{}:
			case <-tierCtx.Done():
			}
			if tierCtx.Err() != nil {
				for j := i; j < len(candidates); j++ {
					outcomes[j] <- probeOutcome{}
				}
				return
			}
			go func(out chan<- probeOutcome, host string) {
				defer func() { <-sem }()
				out <- probeOutcome{started: true, reachable: s.prober.Probe(tierCtx, host)}
			}(outcomes[i], server.Host)
		}
	}()

	var winner *Server
	var probed []string
	for i, out := range outcomes {
		o := <-out
		if o.started {
			probed = append(probed, candidates[i].Host)
		}
		if o.reachable && winner == nil {
			winner = candidates[i]
			cancel()
		}
	}
	return winner, probed
}

func (sel *Selection) String() string {
	if sel == nil || sel.Server == nil {
		return "no server selected"
	}
	return fmt.Sprintf("%s [tier %s, %d probed]", sel.Server, sel.Tier, len(sel.Probed))
}
