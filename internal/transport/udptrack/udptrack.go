// Package udptrack implements the connectionless UDP tracker protocol:
// a connect handshake issuing short-lived connection ids, followed by
// big-endian announce and scrape datagrams.
package udptrack

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"swarmgate/internal/metrics"
	"swarmgate/internal/ratelimit"
	"swarmgate/internal/tracker"
	"swarmgate/internal/transport"

	"github.com/charmbracelet/log"
)

const transportName = "udp"

const (
	protocolMagic = 0x41727101980

	actionConnect  = 0
	actionAnnounce = 1
	actionScrape   = 2
	actionError    = 3

	connectPacketLen  = 16
	announcePacketLen = 98
	scrapeHashLen     = 20
	maxScrapeHashes   = 74

	readBufferLen = 2048
)

type Strategy struct {
	session transport.Session

	addr    string
	engine  *tracker.Engine
	chain   *ratelimit.Chain
	connIDs *connIDTable

	conn *net.UDPConn
	done chan struct{}
}

func New(addr string, engine *tracker.Engine, chain *ratelimit.Chain, connIDTTL time.Duration) *Strategy {
	return &Strategy{
		addr:    addr,
		engine:  engine,
		chain:   chain,
		connIDs: newConnIDTable(connIDTTL),
	}
}

func (s *Strategy) Name() string { return transportName }

func (s *Strategy) Start(ctx context.Context) error {
	if err := s.session.Begin(transportName); err != nil {
		return err
	}

	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		s.session.End()
		return fmt.Errorf("udp transport: resolve %s: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		s.session.End()
		return fmt.Errorf("udp transport: bind %s: %w", s.addr, err)
	}

	s.conn = conn
	s.done = make(chan struct{})
	go s.readLoop(ctx)

	log.Info("UDP tracker listening", "addr", conn.LocalAddr().String())
	return nil
}

func (s *Strategy) Stop() error {
	if !s.session.End() {
		return nil
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("udp transport: close: %w", err)
	}
	<-s.done
	return nil
}

func (s *Strategy) readLoop(ctx context.Context) {
	defer close(s.done)

	buf := make([]byte, readBufferLen)
	for {
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.session.State() == transport.StateStopped {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				log.Error("UDP tracker socket closed unexpectedly", "error", err)
				return
			}
			// Transient read errors (buffer pressure, ICMP-induced) must
			// not take the transport down.
			log.Warn("UDP tracker read failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		go s.handlePacket(ctx, pkt, remote)
	}
}

func (s *Strategy) handlePacket(ctx context.Context, pkt []byte, remote *net.UDPAddr) {
	if len(pkt) < connectPacketLen {
		return // not even a header, drop silently per convention
	}

	action := binary.BigEndian.Uint32(pkt[8:12])
	txID := binary.BigEndian.Uint32(pkt[12:16])

	if err := s.chain.Check(ctx, remote.IP.String()); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			metrics.IncRateLimitRejection(transportName)
			s.writeError(remote, txID, "rate limit exceeded")
		}
		return
	}

	switch action {
	case actionConnect:
		s.handleConnect(pkt, txID, remote)
	case actionAnnounce:
		s.handleAnnounce(ctx, pkt, txID, remote)
	case actionScrape:
		s.handleScrape(ctx, pkt, txID, remote)
	default:
		s.writeError(remote, txID, "unknown action")
	}
}

func (s *Strategy) handleConnect(pkt []byte, txID uint32, remote *net.UDPAddr) {
	if binary.BigEndian.Uint64(pkt[0:8]) != protocolMagic {
		return
	}

	id, err := s.connIDs.issue()
	if err != nil {
		s.writeError(remote, txID, "tracker error")
		return
	}

	resp := make([]byte, 16)
	binary.BigEndian.PutUint32(resp[0:4], actionConnect)
	binary.BigEndian.PutUint32(resp[4:8], txID)
	binary.BigEndian.PutUint64(resp[8:16], id)
	s.write(remote, resp)
}

func (s *Strategy) handleAnnounce(ctx context.Context, pkt []byte, txID uint32, remote *net.UDPAddr) {
	metrics.IncAnnounce(transportName)

	if !s.connIDs.valid(binary.BigEndian.Uint64(pkt[0:8])) {
		s.writeError(remote, txID, "invalid connection id")
		return
	}

	req := parseAnnounce(pkt, remote)
	resp, err := s.engine.Announce(ctx, req)
	if err != nil {
		var denied *tracker.DeniedError
		if errors.As(err, &denied) {
			metrics.IncAdmissionDenial(transportName)
			s.writeError(remote, txID, denied.Reason)
			return
		}
		s.writeError(remote, txID, "tracker error")
		return
	}

	out := make([]byte, 20, 20+len(resp.Peers)*6)
	binary.BigEndian.PutUint32(out[0:4], actionAnnounce)
	binary.BigEndian.PutUint32(out[4:8], txID)
	binary.BigEndian.PutUint32(out[8:12], uint32(resp.Interval/time.Second))
	binary.BigEndian.PutUint32(out[12:16], uint32(resp.Incomplete))
	binary.BigEndian.PutUint32(out[16:20], uint32(resp.Complete))
	for _, p := range resp.Peers {
		v4 := p.IP.To4()
		if v4 == nil {
			continue
		}
		out = append(out, v4...)
		out = append(out, byte(p.Port>>8), byte(p.Port))
	}
	s.write(remote, out)
}

func (s *Strategy) handleScrape(ctx context.Context, pkt []byte, txID uint32, remote *net.UDPAddr) {
	metrics.IncScrape(transportName)

	if !s.connIDs.valid(binary.BigEndian.Uint64(pkt[0:8])) {
		s.writeError(remote, txID, "invalid connection id")
		return
	}

	req := &tracker.ScrapeRequest{
		Params: tracker.Params{Transport: transportName},
		IP:     remote.IP,
	}
	body := pkt[16:]
	if len(body) == 0 || len(body)%scrapeHashLen != 0 || len(body)/scrapeHashLen > maxScrapeHashes {
		req.Malformed = true
	} else {
		for off := 0; off < len(body); off += scrapeHashLen {
			var hash [20]byte
			copy(hash[:], body[off:off+scrapeHashLen])
			req.InfoHashes = append(req.InfoHashes, hash)
		}
	}

	resp, err := s.engine.Scrape(ctx, req)
	if err != nil {
		var denied *tracker.DeniedError
		if errors.As(err, &denied) {
			metrics.IncAdmissionDenial(transportName)
			s.writeError(remote, txID, denied.Reason)
			return
		}
		s.writeError(remote, txID, "tracker error")
		return
	}

	out := make([]byte, 8+12*len(req.InfoHashes))
	binary.BigEndian.PutUint32(out[0:4], actionScrape)
	binary.BigEndian.PutUint32(out[4:8], txID)
	for i, hash := range req.InfoHashes {
		stats := resp.Files[hash]
		off := 8 + 12*i
		binary.BigEndian.PutUint32(out[off:off+4], uint32(stats.Complete))
		binary.BigEndian.PutUint32(out[off+4:off+8], uint32(stats.Downloaded))
		binary.BigEndian.PutUint32(out[off+8:off+12], uint32(stats.Incomplete))
	}
	s.write(remote, out)
}

// parseAnnounce decodes the fixed 98-byte announce packet. Short packets
// are flagged malformed rather than rejected here; the admission filter
// owns that decision.
func parseAnnounce(pkt []byte, remote *net.UDPAddr) *tracker.AnnounceRequest {
	req := &tracker.AnnounceRequest{
		Params: tracker.Params{Transport: transportName},
		IP:     remote.IP,
	}
	if len(pkt) < announcePacketLen {
		req.Malformed = true
		return req
	}

	copy(req.InfoHash[:], pkt[16:36])
	copy(req.PeerID[:], pkt[36:56])
	req.Downloaded = binary.BigEndian.Uint64(pkt[56:64])
	req.Left = binary.BigEndian.Uint64(pkt[64:72])
	req.Uploaded = binary.BigEndian.Uint64(pkt[72:80])

	switch binary.BigEndian.Uint32(pkt[80:84]) {
	case 1:
		req.Event = tracker.EventCompleted
	case 2:
		req.Event = tracker.EventStarted
	case 3:
		req.Event = tracker.EventStopped
	}

	// Bytes 84:88 carry an optional client-requested IP; announces are
	// recorded under the datagram's source address to keep bans effective.
	if numWant := binary.BigEndian.Uint32(pkt[92:96]); numWant != ^uint32(0) {
		req.NumWant = int(numWant)
	}
	req.Port = binary.BigEndian.Uint16(pkt[96:98])
	return req
}

func (s *Strategy) writeError(remote *net.UDPAddr, txID uint32, message string) {
	out := make([]byte, 8+len(message))
	binary.BigEndian.PutUint32(out[0:4], actionError)
	binary.BigEndian.PutUint32(out[4:8], txID)
	copy(out[8:], message)
	s.write(remote, out)
}

func (s *Strategy) write(remote *net.UDPAddr, pkt []byte) {
	if _, err := s.conn.WriteToUDP(pkt, remote); err != nil {
		log.Debug("UDP tracker write failed", "remote", remote.String(), "error", err)
	}
}
