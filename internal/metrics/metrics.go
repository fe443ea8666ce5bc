package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_messages_sent_total",
		Help: "Messages durably accepted by the store.",
	})
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_message_send_failures_total",
		Help: "Message appends that exhausted the retry budget.",
	})
	ReadReceipts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_read_receipts_total",
		Help: "Read receipts applied to the store.",
	})
	PushDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_push_dispatched_total",
		Help: "Notifications handed to the push gateway.",
	})
	PushDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_push_dropped_total",
		Help: "Notifications the push gateway refused; never retried here.",
	})
)

// Handler returns an http.Handler for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
