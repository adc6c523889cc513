package geoip

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP resolves network addresses to ISO country codes, either from a
// MaxMind database or from a JSON list of CIDR ranges.
type GeoIP struct {
	db     *geoip2.Reader
	ranges []cidrCountry
}

type cidrCountry struct {
	net     *net.IPNet
	country string
}

// Open loads path as a MaxMind database, falling back to the JSON range
// format ([{"net": "10.0.0.0/8", "country": "US"}]) when that fails.
func Open(path string) (*GeoIP, error) {
	db, err := geoip2.Open(path)
	if err == nil {
		return &GeoIP{db: db}, nil
	}
	f, ferr := os.Open(path)
	if ferr != nil {
		return nil, fmt.Errorf("open geoip db: %w", err)
	}
	defer f.Close()
	g, jerr := FromRanges(f)
	if jerr != nil {
		return nil, fmt.Errorf("open geoip db: %w", err)
	}
	return g, nil
}

// FromRanges builds a lookup from JSON CIDR ranges. Unparseable ranges are
// skipped.
func FromRanges(r io.Reader) (*GeoIP, error) {
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
	}
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode ranges: %w", err)
	}
	g := &GeoIP{}
	for _, e := range entries {
		if _, n, err := net.ParseCIDR(e.Net); err == nil {
			g.ranges = append(g.ranges, cidrCountry{net: n, country: e.Country})
		}
	}
	return g, nil
}

// Country returns the ISO country code for ip, or "" when unknown. A nil
// GeoIP knows nothing.
func (g *GeoIP) Country(ip string) string {
	if g == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if g.db != nil {
		if rec, err := g.db.Country(parsed); err == nil {
			return rec.Country.IsoCode
		}
	}
	for _, r := range g.ranges {
		if r.net.Contains(parsed) {
			return r.country
		}
	}
	return ""
}

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
