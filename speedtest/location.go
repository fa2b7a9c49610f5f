package speedtest

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNoLocation = errors.New("location unavailable")

// Location is the caller's approximate locality used to bias server
// selection. An empty field is absent; Country may be known without City.
type Location struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}

func (l *Location) HasCountry() bool {
	return l != nil && l.Country != ""
}

func (l *Location) HasCity() bool {
	return l != nil && l.City != ""
}

// empty reports whether neither field is known.
func (l *Location) empty() bool {
	return !l.HasCountry() && !l.HasCity()
}

// ParseLocation parses "Country,City" or "Country" into a Location.
func ParseLocation(s string) (*Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid location input: %s", s)
	}
	loc := &Location{Country: strings.TrimSpace(parts[0])}
	if len(parts) == 2 {
		loc.City = strings.TrimSpace(parts[1])
	}
	if !loc.HasCountry() {
		return nil, fmt.Errorf("invalid location input, country required: %s", s)
	}
	return loc, nil
}

func (l *Location) String() string {
	if l == nil || l.empty() {
		return "Unknown"
	}
	country := l.Country
	if country == "" {
		country = "Unknown"
	}
	if l.City == "" {
		return country
	}
	return fmt.Sprintf("%s, %s", country, l.City)
}
