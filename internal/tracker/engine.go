package tracker

import (
	"context"
	"net"
	"sync"
	"time"
)

const (
	defaultInterval = 30 * time.Minute
	defaultPeerTTL  = 45 * time.Minute
	defaultNumWant  = 50
	maxNumWant      = 200
)

// Engine keeps swarm state in memory and gates every announce and scrape
// through the installed admission filter. It implements the collaborator
// contract the transports submit canonical requests to; it is deliberately
// small and holds no persistence.
type Engine struct {
	filter   FilterFunc
	interval time.Duration
	peerTTL  time.Duration

	mu     sync.RWMutex
	swarms map[[20]byte]*swarm
}

type swarm struct {
	peers     map[[20]byte]*peerState
	completed int
}

type peerState struct {
	peer     Peer
	left     uint64
	lastSeen time.Time
}

type EngineOption func(*Engine)

// WithInterval overrides the announce interval handed back to peers.
func WithInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithPeerTTL overrides how long a silent peer stays in a swarm.
func WithPeerTTL(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.peerTTL = d
		}
	}
}

// NewEngine constructs the engine with the admission filter installed as
// its pre-processing hook. A nil filter admits everything.
func NewEngine(filter FilterFunc, opts ...EngineOption) *Engine {
	e := &Engine{
		filter:   filter,
		interval: defaultInterval,
		peerTTL:  defaultPeerTTL,
		swarms:   make(map[[20]byte]*swarm),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Interval returns the announce interval the engine hands to peers.
func (e *Engine) Interval() time.Duration {
	return e.interval
}

// Announce records the peer's presence and returns the current swarm view.
// A *DeniedError is returned when the admission filter rejects the request.
func (e *Engine) Announce(ctx context.Context, req *AnnounceRequest) (*AnnounceResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.filter != nil {
		if d := e.filter(req.InfoHash, req.Params, req.IP); !d.Allowed {
			return nil, &DeniedError{Reason: d.Reason}
		}
	}

	now := time.Now()

	e.mu.Lock()
	sw, ok := e.swarms[req.InfoHash]
	if !ok {
		sw = &swarm{peers: make(map[[20]byte]*peerState)}
		e.swarms[req.InfoHash] = sw
	}
	sw.prune(now, e.peerTTL)

	switch req.Event {
	case EventStopped:
		delete(sw.peers, req.PeerID)
	case EventCompleted:
		sw.completed++
		fallthrough
	default:
		sw.peers[req.PeerID] = &peerState{
			peer:     Peer{ID: req.PeerID, IP: req.IP, Port: req.Port},
			left:     req.Left,
			lastSeen: now,
		}
	}

	// Stopped events and pruning can empty a swarm; drop the entry so
	// info-hash churn does not grow the map forever.
	if len(sw.peers) == 0 {
		delete(e.swarms, req.InfoHash)
	}

	resp := &AnnounceResponse{Interval: e.interval}
	want := req.NumWant
	if want <= 0 {
		want = defaultNumWant
	}
	if want > maxNumWant {
		want = maxNumWant
	}
	for id, st := range sw.peers {
		if st.left == 0 {
			resp.Complete++
		} else {
			resp.Incomplete++
		}
		if id == req.PeerID || len(resp.Peers) >= want {
			continue
		}
		resp.Peers = append(resp.Peers, st.peer)
	}
	e.mu.Unlock()

	return resp, nil
}

// Scrape returns swarm-wide statistics without mutating any swarm.
func (e *Engine) Scrape(ctx context.Context, req *ScrapeRequest) (*ScrapeResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.filter != nil {
		var first [20]byte
		if len(req.InfoHashes) > 0 {
			first = req.InfoHashes[0]
		}
		if d := e.filter(first, req.Params, req.IP); !d.Allowed {
			return nil, &DeniedError{Reason: d.Reason}
		}
	}

	resp := &ScrapeResponse{Files: make(map[[20]byte]Stats, len(req.InfoHashes))}

	e.mu.RLock()
	for _, hash := range req.InfoHashes {
		sw, ok := e.swarms[hash]
		if !ok {
			resp.Files[hash] = Stats{}
			continue
		}
		var stats Stats
		stats.Downloaded = sw.completed
		for _, st := range sw.peers {
			if st.left == 0 {
				stats.Complete++
			} else {
				stats.Incomplete++
			}
		}
		resp.Files[hash] = stats
	}
	e.mu.RUnlock()

	return resp, nil
}

// prune drops peers that have not announced within ttl. Caller holds the
// engine write lock.
func (s *swarm) prune(now time.Time, ttl time.Duration) {
	for id, st := range s.peers {
		if now.Sub(st.lastSeen) > ttl {
			delete(s.peers, id)
		}
	}
}

// ClientIP extracts the IP portion of a transport remote address.
func ClientIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return net.ParseIP(addr.String())
	}
	return net.ParseIP(host)
}
