// Package wstrack serves the WebSocket signalling channel: one persistent
// connection per peer, each inbound message mapping to an announce.
// Admission is evaluated per message, not at connection open, so a ban
// added mid-session cuts off an already-connected peer.
package wstrack

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"swarmgate/internal/metrics"
	"swarmgate/internal/ratelimit"
	"swarmgate/internal/tracker"
	"swarmgate/internal/transport"

	"github.com/charmbracelet/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const transportName = "ws"

type announceMessage struct {
	Action     string `json:"action"`
	InfoHash   string `json:"info_hash"`
	PeerID     string `json:"peer_id"`
	Port       uint16 `json:"port"`
	Uploaded   uint64 `json:"uploaded"`
	Downloaded uint64 `json:"downloaded"`
	Left       uint64 `json:"left"`
	Event      string `json:"event,omitempty"`
	NumWant    int    `json:"numwant,omitempty"`
}

type peerEntry struct {
	PeerID string `json:"peer_id"`
	IP     string `json:"ip"`
	Port   uint16 `json:"port"`
}

type announceReply struct {
	Action     string      `json:"action"`
	InfoHash   string      `json:"info_hash"`
	Interval   int64       `json:"interval"`
	Complete   int         `json:"complete"`
	Incomplete int         `json:"incomplete"`
	Peers      []peerEntry `json:"peers"`
}

type errorReply struct {
	Action        string `json:"action"`
	FailureReason string `json:"failure_reason"`
}

type Strategy struct {
	session transport.Session

	addr        string
	engine      *tracker.Engine
	chain       *ratelimit.Chain
	readTimeout time.Duration
	server      *http.Server
	listener    net.Listener

	// Established connections are hijacked from the http server, so
	// Shutdown neither closes nor waits for them; Stop closes them itself.
	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}
}

func New(addr string, engine *tracker.Engine, chain *ratelimit.Chain, readTimeout time.Duration) *Strategy {
	if readTimeout <= 0 {
		readTimeout = 2 * time.Minute
	}
	return &Strategy{
		addr:        addr,
		engine:      engine,
		chain:       chain,
		readTimeout: readTimeout,
		conns:       make(map[*websocket.Conn]struct{}),
	}
}

func (s *Strategy) Name() string { return transportName }

func (s *Strategy) Start(ctx context.Context) error {
	if err := s.session.Begin(transportName); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.session.End()
		return fmt.Errorf("ws transport: bind %s: %w", s.addr, err)
	}

	s.listener = ln
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleUpgrade)
	s.server = &http.Server{
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("WebSocket tracker server terminated", "error", err)
		}
	}()

	log.Info("WebSocket tracker listening", "addr", ln.Addr().String())
	return nil
}

func (s *Strategy) Stop() error {
	if !s.session.End() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)

	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close(websocket.StatusGoingAway, "tracker shutting down")
	}
	s.connMu.Unlock()

	if err != nil {
		return fmt.Errorf("ws transport: shutdown: %w", err)
	}
	return nil
}

func (s *Strategy) trackConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
}

func (s *Strategy) untrackConn(conn *websocket.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

func (s *Strategy) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Tracker clients connect from arbitrary origins.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Debug("WebSocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	metrics.IncWSConnections()
	defer metrics.DecWSConnections()
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.trackConn(conn)
	defer s.untrackConn(conn)

	ip := clientIP(r)
	s.readLoop(r.Context(), conn, ip)
}

func (s *Strategy) readLoop(ctx context.Context, conn *websocket.Conn, ip net.IP) {
	for {
		msgCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
		var msg announceMessage
		err := wsjson.Read(msgCtx, conn, &msg)
		cancel()
		if err != nil {
			// Normal teardown, timeout of an idle connection, or server
			// shutdown; per-connection state is released either way.
			return
		}

		if err := s.chain.Check(ctx, ip.String()); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				metrics.IncRateLimitRejection(transportName)
				s.writeError(ctx, conn, "rate limit exceeded")
				continue
			}
			return
		}

		if msg.Action != "announce" {
			s.writeError(ctx, conn, "unknown action")
			continue
		}
		s.handleAnnounce(ctx, conn, ip, &msg)
	}
}

func (s *Strategy) handleAnnounce(ctx context.Context, conn *websocket.Conn, ip net.IP, msg *announceMessage) {
	metrics.IncAnnounce(transportName)

	req := buildAnnounce(ip, msg)
	resp, err := s.engine.Announce(ctx, req)
	if err != nil {
		var denied *tracker.DeniedError
		if errors.As(err, &denied) {
			metrics.IncAdmissionDenial(transportName)
			s.writeError(ctx, conn, denied.Reason)
			return
		}
		s.writeError(ctx, conn, "tracker error")
		return
	}

	reply := announceReply{
		Action:     "announce",
		InfoHash:   msg.InfoHash,
		Interval:   int64(resp.Interval / time.Second),
		Complete:   resp.Complete,
		Incomplete: resp.Incomplete,
		Peers:      make([]peerEntry, 0, len(resp.Peers)),
	}
	for _, p := range resp.Peers {
		reply.Peers = append(reply.Peers, peerEntry{
			PeerID: hex.EncodeToString(p.ID[:]),
			IP:     p.IP.String(),
			Port:   p.Port,
		})
	}
	s.write(ctx, conn, reply)
}

func buildAnnounce(ip net.IP, msg *announceMessage) *tracker.AnnounceRequest {
	req := &tracker.AnnounceRequest{
		Params:     tracker.Params{Transport: transportName},
		IP:         ip,
		Port:       msg.Port,
		Uploaded:   msg.Uploaded,
		Downloaded: msg.Downloaded,
		Left:       msg.Left,
		NumWant:    msg.NumWant,
	}

	infoHash, hashErr := hex.DecodeString(msg.InfoHash)
	peerID, idErr := hex.DecodeString(msg.PeerID)
	if hashErr != nil || idErr != nil || len(infoHash) != 20 || len(peerID) != 20 {
		req.Malformed = true
		return req
	}
	copy(req.InfoHash[:], infoHash)
	copy(req.PeerID[:], peerID)

	switch msg.Event {
	case "started":
		req.Event = tracker.EventStarted
	case "stopped":
		req.Event = tracker.EventStopped
	case "completed":
		req.Event = tracker.EventCompleted
	}
	return req
}

func (s *Strategy) write(ctx context.Context, conn *websocket.Conn, payload any) {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, payload); err != nil {
		log.Debug("WebSocket write failed", "error", err)
	}
}

func (s *Strategy) writeError(ctx context.Context, conn *websocket.Conn, reason string) {
	s.write(ctx, conn, errorReply{Action: "error", FailureReason: reason})
}

func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}
