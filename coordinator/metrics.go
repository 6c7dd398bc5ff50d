package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var renderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "shutterd_render_duration_seconds",
	Help:    "Time spent rendering a page into a screenshot payload.",
	Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
})

var uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "shutterd_upload_duration_seconds",
	Help:    "Time spent uploading a screenshot payload to the object store.",
	Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
})
