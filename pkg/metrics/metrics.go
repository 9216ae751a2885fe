package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "unilib", Name: "uploads_total", Help: "Number of upload attempts by outcome."},
		[]string{"outcome"},
	)
	UploadRollbacks = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "unilib", Name: "upload_rollbacks_total", Help: "Number of compensating deletes issued after a failed upload."},
	)
	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "unilib", Name: "downloads_total", Help: "Number of download requests by outcome."},
		[]string{"outcome"},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "unilib", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "unilib", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(UploadsTotal)
	reg.MustRegister(UploadRollbacks)
	reg.MustRegister(DownloadsTotal)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
