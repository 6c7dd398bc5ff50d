package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shutterd_messages_handled_total",
	Help: "Messages handled, labeled by disposition.",
}, []string{"outcome"})

var inflightHandlers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "shutterd_inflight_handlers",
	Help: "Handlers currently processing a message.",
})
