// Package httptrack serves plain HTTP tracker announces and scrapes with
// bencoded responses.
package httptrack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"swarmgate/internal/metrics"
	"swarmgate/internal/ratelimit"
	"swarmgate/internal/tracker"
	"swarmgate/internal/transport"

	"github.com/charmbracelet/log"
	"github.com/zeebo/bencode"
)

const transportName = "http"

type Strategy struct {
	session transport.Session

	addr   string
	engine *tracker.Engine
	chain  *ratelimit.Chain
	server *http.Server
}

func New(addr string, engine *tracker.Engine, chain *ratelimit.Chain) *Strategy {
	return &Strategy{addr: addr, engine: engine, chain: chain}
}

func (s *Strategy) Name() string { return transportName }

// Start binds the listener and begins serving. Not idempotent: a second
// call on a running strategy is an error.
func (s *Strategy) Start(ctx context.Context) error {
	if err := s.session.Begin(transportName); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.session.End()
		return fmt.Errorf("http transport: bind %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /announce", s.rateLimited(http.HandlerFunc(s.handleAnnounce)))
	mux.Handle("GET /scrape", s.rateLimited(http.HandlerFunc(s.handleScrape)))

	s.server = &http.Server{
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP tracker server terminated", "error", err)
		}
	}()

	log.Info("HTTP tracker listening", "addr", ln.Addr().String())
	return nil
}

func (s *Strategy) Stop() error {
	if !s.session.End() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http transport: shutdown: %w", err)
	}
	return nil
}

// rateLimited applies the chain as ordinary request middleware ahead of
// the swarm call.
func (s *Strategy) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if err := s.chain.Check(r.Context(), ip.String()); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				metrics.IncRateLimitRejection(transportName)
				writeFailure(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			// Context canceled while a slow-down delay was pending, or a
			// counter backend failure.
			writeFailure(w, http.StatusServiceUnavailable, "tracker unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Strategy) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	metrics.IncAnnounce(transportName)

	req := parseAnnounce(r)
	resp, err := s.engine.Announce(r.Context(), req)
	if err != nil {
		var denied *tracker.DeniedError
		if errors.As(err, &denied) {
			metrics.IncAdmissionDenial(transportName)
			writeFailure(w, http.StatusForbidden, denied.Reason)
			return
		}
		writeFailure(w, http.StatusInternalServerError, "tracker error")
		return
	}

	writeBencoded(w, map[string]any{
		"interval":   int64(resp.Interval / time.Second),
		"complete":   int64(resp.Complete),
		"incomplete": int64(resp.Incomplete),
		"peers":      compactPeers(resp.Peers),
	})
}

func (s *Strategy) handleScrape(w http.ResponseWriter, r *http.Request) {
	metrics.IncScrape(transportName)

	req := parseScrape(r)
	resp, err := s.engine.Scrape(r.Context(), req)
	if err != nil {
		var denied *tracker.DeniedError
		if errors.As(err, &denied) {
			metrics.IncAdmissionDenial(transportName)
			writeFailure(w, http.StatusForbidden, denied.Reason)
			return
		}
		writeFailure(w, http.StatusInternalServerError, "tracker error")
		return
	}

	files := make(map[string]any, len(resp.Files))
	for hash, stats := range resp.Files {
		files[string(hash[:])] = map[string]int64{
			"complete":   int64(stats.Complete),
			"downloaded": int64(stats.Downloaded),
			"incomplete": int64(stats.Incomplete),
		}
	}
	writeBencoded(w, map[string]any{"files": files})
}

// parseAnnounce never rejects: structurally broken requests are flagged
// malformed and denied by the admission filter downstream.
func parseAnnounce(r *http.Request) *tracker.AnnounceRequest {
	q := r.URL.Query()
	req := &tracker.AnnounceRequest{
		Params: tracker.Params{Transport: transportName},
		IP:     clientIP(r),
	}

	infoHash := q.Get("info_hash")
	peerID := q.Get("peer_id")
	port, portErr := strconv.ParseUint(q.Get("port"), 10, 16)
	if len(infoHash) != 20 || len(peerID) != 20 || portErr != nil {
		req.Malformed = true
		return req
	}
	copy(req.InfoHash[:], infoHash)
	copy(req.PeerID[:], peerID)
	req.Port = uint16(port)

	req.Uploaded, _ = strconv.ParseUint(q.Get("uploaded"), 10, 64)
	req.Downloaded, _ = strconv.ParseUint(q.Get("downloaded"), 10, 64)
	req.Left, _ = strconv.ParseUint(q.Get("left"), 10, 64)
	if numWant, err := strconv.Atoi(q.Get("numwant")); err == nil {
		req.NumWant = numWant
	}

	switch q.Get("event") {
	case "started":
		req.Event = tracker.EventStarted
	case "stopped":
		req.Event = tracker.EventStopped
	case "completed":
		req.Event = tracker.EventCompleted
	}
	return req
}

func parseScrape(r *http.Request) *tracker.ScrapeRequest {
	req := &tracker.ScrapeRequest{
		Params: tracker.Params{Transport: transportName},
		IP:     clientIP(r),
	}

	hashes := r.URL.Query()["info_hash"]
	if len(hashes) == 0 {
		req.Malformed = true
		return req
	}
	for _, h := range hashes {
		if len(h) != 20 {
			req.Malformed = true
			return req
		}
		var hash [20]byte
		copy(hash[:], h)
		req.InfoHashes = append(req.InfoHashes, hash)
	}
	return req
}

// compactPeers encodes peers in the 6-bytes-per-peer compact form.
func compactPeers(peers []tracker.Peer) string {
	buf := make([]byte, 0, len(peers)*6)
	for _, p := range peers {
		v4 := p.IP.To4()
		if v4 == nil {
			continue
		}
		buf = append(buf, v4...)
		buf = append(buf, byte(p.Port>>8), byte(p.Port))
	}
	return string(buf)
}

func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

func writeBencoded(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "text/plain")
	if err := bencode.NewEncoder(w).Encode(payload); err != nil {
		log.Error("Failed to encode tracker response", "error", err)
	}
}

// writeFailure answers with the conventional bencoded failure dictionary.
// Tracker clients read the body; the status code is for proxies and logs.
func writeFailure(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_ = bencode.NewEncoder(w).Encode(map[string]string{"failure reason": reason})
}
