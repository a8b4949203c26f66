package geoip

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP resolves ISO country codes from a MaxMind DB or a JSON CIDR list.
// A nil *GeoIP is valid and resolves nothing.
type GeoIP struct {
	db       *geoip2.Reader
	fallback []record
}

type record struct {
	net     *net.IPNet
	country string
}

// Init opens the database at path. MaxMind files are tried first; otherwise
// the file is parsed as a JSON list of {"net": CIDR, "country": code}.
func Init(path string) (*GeoIP, error) {
	g := &GeoIP{}
	db, err := geoip2.Open(path)
	if err == nil {
		g.db = db
		return g, nil
	}

	data, jerr := os.ReadFile(path)
	if jerr != nil {
		return nil, err
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
	}
	if jerr = json.Unmarshal(data, &entries); jerr != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			g.fallback = append(g.fallback, record{net: n, country: strings.ToUpper(e.Country)})
		}
	}
	return g, nil
}

// Country returns the ISO country code for ip, or "" when unknown.
func (g *GeoIP) Country(ip net.IP) string {
	if g == nil || ip == nil {
		return ""
	}
	if g.db != nil {
		if rec, err := g.db.Country(ip); err == nil && rec.Country.IsoCode != "" {
			return rec.Country.IsoCode
		}
	}
	for _, r := range g.fallback {
		if r.net.Contains(ip) {
			return r.country
		}
	}
	return ""
}

// CountryFromRequest resolves the country of the client that sent r.
func (g *GeoIP) CountryFromRequest(r *http.Request) string {
	return g.Country(ClientIP(r))
}

// ClientIP returns the first X-Forwarded-For address, falling back to
// RemoteAddr.
func ClientIP(r *http.Request) net.IP {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.ParseIP(host)
}

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
