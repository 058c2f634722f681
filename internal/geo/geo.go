// Package geo resolves IP addresses to the full geo record the dispatcher's
// context and macro engine need: country, region, regionCode, city,
// continent, lat/lon, timezone and postal code. Grounded on
// internal/geoip/geoip.go's geoip2-with-JSON-fallback wrapper, extended from
// that file's Country()/Region() pair to the full geoip2 City record this
// spec's reqctx.Geo carries.
package geo

import (
	"encoding/json"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
)

// Record is the resolved geo data for one IP.
type Record struct {
	Country    string
	Region     string
	RegionCode string
	City       string
	Continent  string
	Lat        float64
	Lon        float64
	TZ         string
	Postal     string
}

// Resolver looks up Records from a MaxMind GeoIP2 City database, falling
// back to a small JSON CIDR table when the binary database is unavailable
// (e.g. in tests, matching the teacher's own testdata fixture approach).
type Resolver struct {
	db       *geoip2.Reader
	fallback []fallbackEntry
}

type fallbackEntry struct {
	net     *net.IPNet
	record  Record
}

// Init opens the database at path, or its JSON fallback form.
func Init(path string) (*Resolver, error) {
	r := &Resolver{}
	db, err := geoip2.Open(path)
	if err == nil {
		r.db = db
		return r, nil
	}

	data, jerr := os.ReadFile(path)
	if jerr != nil {
		return nil, err
	}
	var entries []struct {
		Net    string `json:"net"`
		Record Record `json:"record"`
	}
	if jerr = json.Unmarshal(data, &entries); jerr != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			r.fallback = append(r.fallback, fallbackEntry{net: n, record: e.Record})
		}
	}
	return r, nil
}

// Lookup resolves ip to a Record. A nil Resolver or an unresolvable IP
// yields the zero Record — geo enrichment is advisory, never fatal to
// dispatch.
func (r *Resolver) Lookup(ip net.IP) Record {
	if r == nil || ip == nil {
		return Record{}
	}
	if r.db != nil {
		if rec, err := r.db.City(ip); err == nil {
			var region, regionCode string
			if len(rec.Subdivisions) > 0 {
				region = rec.Subdivisions[0].Names["en"]
				regionCode = rec.Subdivisions[0].IsoCode
			}
			return Record{
				Country:    rec.Country.IsoCode,
				Region:     region,
				RegionCode: regionCode,
				City:       rec.City.Names["en"],
				Continent:  rec.Continent.Code,
				Lat:        rec.Location.Latitude,
				Lon:        rec.Location.Longitude,
				TZ:         rec.Location.TimeZone,
				Postal:     rec.Postal.Code,
			}
		}
	}
	for _, e := range r.fallback {
		if e.net.Contains(ip) {
			return e.record
		}
	}
	return Record{}
}

// Close releases the underlying database handle.
func (r *Resolver) Close() error {
	if r != nil && r.db != nil {
		return r.db.Close()
	}
	return nil
}
