package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ChatTurns         prometheus.Counter
	ChatFallbacks     prometheus.Counter
	ProviderDuration  *prometheus.HistogramVec
	ImageGenerations  prometheus.Counter
	ImageQuotaDenied  prometheus.Counter
	Uploads           prometheus.Counter
	CleanupProcessed  prometheus.Counter
	CleanupFailed     prometheus.Counter
	WebsocketsCurrent prometheus.Gauge
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ChatTurns: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "desiai",
				Name:      "chat_turns_total",
				Help:      "Total chat turns completed, including fallbacks",
			}),
			ChatFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "desiai",
				Name:      "chat_fallbacks_total",
				Help:      "Chat turns answered with the fallback reply after a provider failure",
			}),
			ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "desiai",
				Name:      "provider_request_duration_seconds",
				Help:      "Latency of completion and image provider calls",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
			}, []string{"operation", "outcome"}),
			ImageGenerations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "desiai",
				Name:      "image_generations_total",
				Help:      "Images generated successfully",
			}),
			ImageQuotaDenied: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "desiai",
				Name:      "image_quota_denied_total",
				Help:      "Image generation requests denied by the daily quota",
			}),
			Uploads: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "desiai",
				Name:      "uploads_total",
				Help:      "Files stored in object storage",
			}),
			CleanupProcessed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "desiai",
				Name:      "cleanup_jobs_processed_total",
				Help:      "Object cleanup jobs processed successfully",
			}),
			CleanupFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "desiai",
				Name:      "cleanup_jobs_failed_total",
				Help:      "Object cleanup jobs that failed an attempt",
			}),
			WebsocketsCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "desiai",
				Name:      "ws_connections",
				Help:      "Open keep-alive websocket connections",
			}),
		}
		prometheus.MustRegister(
			global.ChatTurns,
			global.ChatFallbacks,
			global.ProviderDuration,
			global.ImageGenerations,
			global.ImageQuotaDenied,
			global.Uploads,
			global.CleanupProcessed,
			global.CleanupFailed,
			global.WebsocketsCurrent,
		)
	})
	return global
}
