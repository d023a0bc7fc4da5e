// Package geo enriches resolved client addresses with location and network
// metadata from local MaxMind databases. Enrichment is optional: with no
// databases configured every lookup misses and the metadata store records
// empty geo fields.
package geo

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"github.com/ekinok/sessiond/internal/config"
	"github.com/ekinok/sessiond/pkg/clientip"
)

type Info struct {
	Country        string `json:"country,omitempty"`
	Region         string `json:"region,omitempty"`
	City           string `json:"city,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	ISP            string `json:"isp,omitempty"`
	ConnectionType string `json:"connection_type,omitempty"`
}

type Resolver struct {
	city   *geoip2.Reader
	asn    *geoip2.Reader
	logger *zap.Logger
}

// Open loads whichever databases are configured. Either path may be empty;
// a fully unconfigured resolver is valid and simply never resolves.
func Open(cfg *config.GeoIPConfig, logger *zap.Logger) (*Resolver, error) {
	r := &Resolver{logger: logger}

	if cfg.CityDBPath != "" {
		city, err := geoip2.Open(cfg.CityDBPath)
		if err != nil {
			return nil, err
		}
		r.city = city
	}
	if cfg.ASNDBPath != "" {
		asn, err := geoip2.Open(cfg.ASNDBPath)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.asn = asn
	}
	return r, nil
}

func (r *Resolver) Close() {
	if r == nil {
		return
	}
	if r.city != nil {
		r.city.Close()
	}
	if r.asn != nil {
		r.asn.Close()
	}
}

// Lookup resolves addr. Returns ok=false for local addresses, unparsable
// input, or when no database is loaded. Lookup never fails the caller.
func (r *Resolver) Lookup(addr string) (Info, bool) {
	if r == nil || (r.city == nil && r.asn == nil) {
		return Info{}, false
	}
	if clientip.IsLocal(addr) {
		return Info{}, false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return Info{}, false
	}

	var info Info
	found := false

	if r.city != nil {
		record, err := r.city.City(ip)
		if err != nil {
			r.logger.Debug("geoip city lookup failed", zap.String("ip", addr), zap.Error(err))
		} else {
			info.Country = record.Country.IsoCode
			info.City = record.City.Names["en"]
			info.Timezone = record.Location.TimeZone
			if len(record.Subdivisions) > 0 {
				info.Region = record.Subdivisions[0].Names["en"]
			}
			found = info.Country != "" || info.City != ""
		}
	}

	if r.asn != nil {
		record, err := r.asn.ASN(ip)
		if err != nil {
			r.logger.Debug("geoip asn lookup failed", zap.String("ip", addr), zap.Error(err))
		} else if record.AutonomousSystemOrganization != "" {
			info.ISP = record.AutonomousSystemOrganization
			info.ConnectionType = classifyConnection(record.AutonomousSystemOrganization)
			found = true
		}
	}

	return info, found
}

// classifyConnection is a rough split between datacenter ranges and everything
// else, based on the AS organization name.
func classifyConnection(org string) string {
	lower := strings.ToLower(org)
	for _, marker := range []string{"hosting", "cloud", "datacenter", "data center", "server", "vps", "amazon", "google", "microsoft", "digitalocean", "hetzner", "ovh"} {
		if strings.Contains(lower, marker) {
			return "datacenter"
		}
	}
	return "isp"
}
