package tracker

import (
	"net"
	"time"
)

// Event is a peer's announce event as defined by the tracker protocols.
type Event uint8

const (
	EventNone Event = iota
	EventCompleted
	EventStarted
	EventStopped
)

func (e Event) String() string {
	switch e {
	case EventCompleted:
		return "completed"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	default:
		return "none"
	}
}

// Params carries the transport-parsed request fields the admission layer
// inspects before the engine touches swarm state.
type Params struct {
	// Malformed is set by the transport when required announce/scrape
	// fields were missing or unparseable.
	Malformed bool

	// Transport names the strategy that parsed the request ("http",
	// "udp", "ws"); used for logging and metric labels only.
	Transport string
}

// Decision is the admission outcome for a single request.
type Decision struct {
	Allowed bool
	Reason  string
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// FilterFunc is the hook the engine invokes before processing every
// announce and scrape. Installed once at engine construction.
type FilterFunc func(infoHash [20]byte, params Params, addr net.IP) Decision

// DeniedError is how an admission deny travels back to the transport; each
// strategy turns it into its wire-appropriate rejection.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "admission denied: " + e.Reason
}

type AnnounceRequest struct {
	Params

	InfoHash   [20]byte
	PeerID     [20]byte
	IP         net.IP
	Port       uint16
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	Event      Event
	NumWant    int
}

type Peer struct {
	ID   [20]byte
	IP   net.IP
	Port uint16
}

type AnnounceResponse struct {
	Interval   time.Duration
	Complete   int
	Incomplete int
	Peers      []Peer
}

type ScrapeRequest struct {
	Params

	InfoHashes [][20]byte
	IP         net.IP
}

type Stats struct {
	Complete   int
	Downloaded int
	Incomplete int
}

type ScrapeResponse struct {
	Files map[[20]byte]Stats
}
