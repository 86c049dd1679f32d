// Package metrics exposes the gateway's prometheus collectors. Counters are
// registered on the default registry and served from the admin mux.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	announcesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarmgate_announces_total",
		Help: "Total announce requests processed, by transport",
	}, []string{"transport"})

	scrapesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarmgate_scrapes_total",
		Help: "Total scrape requests processed, by transport",
	}, []string{"transport"})

	admissionDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarmgate_admission_denials_total",
		Help: "Requests denied by the admission filter, by transport",
	}, []string{"transport"})

	rateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swarmgate_ratelimit_rejections_total",
		Help: "Requests rejected by the rate limit chain, by transport",
	}, []string{"transport"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarmgate_ws_connections_active",
		Help: "Currently open WebSocket signalling connections",
	})

	banIndexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swarmgate_ban_ranges",
		Help: "Number of ban ranges in the active index snapshot",
	})
)

func IncAnnounce(transport string) {
	announcesTotal.WithLabelValues(transport).Inc()
}

func IncScrape(transport string) {
	scrapesTotal.WithLabelValues(transport).Inc()
}

func IncAdmissionDenial(transport string) {
	admissionDenialsTotal.WithLabelValues(transport).Inc()
}

func IncRateLimitRejection(transport string) {
	rateLimitRejectionsTotal.WithLabelValues(transport).Inc()
}

func IncWSConnections() { wsConnectionsActive.Inc() }

func DecWSConnections() { wsConnectionsActive.Dec() }

func SetBanIndexSize(n int) { banIndexSize.Set(float64(n)) }
