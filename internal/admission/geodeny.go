package admission

import (
	"fmt"
	"net"
	"strings"

	"swarmgate/internal/tracker"

	"github.com/oschwald/geoip2-golang"
)

// GeoDeny is an optional admission extension that rejects announces from
// configured country codes. It is registered only when an mmdb path is
// present in the settings.
type GeoDeny struct {
	reader *geoip2.Reader
	denied map[string]struct{}
}

func NewGeoDeny(mmdbPath string, countries []string) (*GeoDeny, error) {
	reader, err := geoip2.Open(mmdbPath)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}

	denied := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		denied[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return &GeoDeny{reader: reader, denied: denied}, nil
}

func (g *GeoDeny) Close() error {
	return g.reader.Close()
}

// Check implements Predicate. Lookups that fail resolve to allow; the
// extension only denies on a positive country match.
func (g *GeoDeny) Check(_ [20]byte, _ tracker.Params, addr net.IP) tracker.Decision {
	if len(g.denied) == 0 || addr == nil {
		return tracker.Allow()
	}

	record, err := g.reader.Country(addr)
	if err != nil {
		return tracker.Allow()
	}
	if _, found := g.denied[record.Country.IsoCode]; found {
		return tracker.Deny("country blocked: " + record.Country.IsoCode)
	}
	return tracker.Allow()
}
