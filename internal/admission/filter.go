// Package admission gates every announce and scrape before the tracker
// engine touches swarm state. The filter is a pure predicate: no I/O, no
// locks beyond the ban index snapshot read, safe for any number of
// concurrent callers across all transports.
package admission

import (
	"net"

	"swarmgate/internal/banindex"
	"swarmgate/internal/domain"
	"swarmgate/internal/tracker"
)

const (
	ReasonMalformed = "malformed request"
	ReasonBanned    = "address banned"
)

// Predicate is an admission extension. Returning a non-allow decision
// short-circuits the remaining extensions.
type Predicate func(infoHash [20]byte, params tracker.Params, addr net.IP) tracker.Decision

type extension struct {
	name string
	pred Predicate
}

// Filter evaluates the ordered admission checks: malformed rejection, ban
// range containment, then registered extensions in registration order.
type Filter struct {
	index *banindex.Index
	exts  []extension
}

func New(index *banindex.Index) *Filter {
	return &Filter{index: index}
}

// Register appends an extension predicate. Not safe to call once the
// gateway is serving; extensions are wired during construction.
func (f *Filter) Register(name string, pred Predicate) {
	f.exts = append(f.exts, extension{name: name, pred: pred})
}

// Evaluate is installed as the engine's filter hook.
func (f *Filter) Evaluate(infoHash [20]byte, params tracker.Params, addr net.IP) tracker.Decision {
	if params.Malformed {
		return tracker.Deny(ReasonMalformed)
	}

	if u, ok := domain.IPToUint32(addr); ok && f.index.Contains(u) {
		return tracker.Deny(ReasonBanned)
	}

	for _, ext := range f.exts {
		if d := ext.pred(infoHash, params, addr); !d.Allowed {
			return d
		}
	}
	return tracker.Allow()
}
