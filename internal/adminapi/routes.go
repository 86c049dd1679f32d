// Package adminapi exposes the ban-range administration surface over HTTP.
// Request authentication is an external collaborator's job: deployments are
// expected to front this listener with their own auth layer. The auth-route
// quota still applies here to blunt brute-force traffic before it reaches
// any such layer's credential checks.
package adminapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"swarmgate/internal/banstore"
	"swarmgate/internal/ratelimit"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	store *banstore.Store
	quota *ratelimit.Chain
}

func NewServer(store *banstore.Store, quota *ratelimit.Chain) *Server {
	return &Server{store: store, quota: quota}
}

// Routes builds the admin mux. The metrics endpoint rides along on the
// same listener.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /banRanges/{page}", s.listBanRanges)
	mux.Handle("POST /banRanges", s.authLimited(http.HandlerFunc(s.createBanRange)))
	mux.Handle("POST /banRanges/bulk", s.authLimited(http.HandlerFunc(s.bulkCreateBanRanges)))
	mux.Handle("PUT /banRanges/{id}", s.authLimited(http.HandlerFunc(s.updateBanRange)))
	mux.Handle("DELETE /banRanges/{id}", s.authLimited(http.HandlerFunc(s.deleteBanRange)))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// authLimited applies the stricter auth-route quota to mutating routes.
func (s *Server) authLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if err := s.quota.Check(r.Context(), host); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimited) {
				writeError(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			writeError(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
