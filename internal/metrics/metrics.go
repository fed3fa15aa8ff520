package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	PaymentsInitiated      *prometheus.CounterVec
	NotificationsProcessed *prometheus.CounterVec
	NotificationsRejected  *prometheus.CounterVec
	DuplicateDeliveries    prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	initiated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boutique_payments_initiated_total",
		Help: "Payment-page creations, by outcome.",
	}, []string{"outcome"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boutique_webhook_notifications_total",
		Help: "Gateway notifications applied, by mapped payment status.",
	}, []string{"payment_status"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boutique_webhook_rejections_total",
		Help: "Gateway notifications rejected before any state change.",
	}, []string{"reason"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "boutique_webhook_duplicate_deliveries_total",
		Help: "Redeliveries that resolved to a no-op.",
	})

	r.MustRegister(initiated, processed, rejected, duplicates)
	return &Registry{
		reg:                    r,
		PaymentsInitiated:      initiated,
		NotificationsProcessed: processed,
		NotificationsRejected:  rejected,
		DuplicateDeliveries:    duplicates,
	}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
