package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	HTTPRequests         *prometheus.CounterVec
	Generations          *prometheus.CounterVec
	ModerationRejections prometheus.Counter
	BookkeepingFailures  *prometheus.CounterVec
	CreditsEarned        *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "halalchat",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by method and status",
			}, []string{"method", "status"}),
			Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "halalchat",
				Name:      "generations_total",
				Help:      "Total generated responses by source (inference or fallback)",
			}, []string{"source"}),
			ModerationRejections: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "halalchat",
				Name:      "moderation_rejections_total",
				Help:      "Total prompts rejected by the moderation filter",
			}),
			BookkeepingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "halalchat",
				Name:      "bookkeeping_failures_total",
				Help:      "Secondary side effects that failed after the primary outcome succeeded",
			}, []string{"step"}),
			CreditsEarned: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "halalchat",
				Name:      "credits_earned_total",
				Help:      "Credits granted by reason",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			global.HTTPRequests,
			global.Generations,
			global.ModerationRejections,
			global.BookkeepingFailures,
			global.CreditsEarned,
		)
	})
	return global
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
