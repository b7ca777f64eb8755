package http

import (
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/monitoring"
)

// HandlerMetrics wraps handlers with metrics tracking
type HandlerMetrics struct {
	metrics *monitoring.Metrics
}

// NewHandlerMetrics creates a metrics wrapper
func NewHandlerMetrics(metrics *monitoring.Metrics) *HandlerMetrics {
	return &HandlerMetrics{metrics: metrics}
}

// TrackStoreOperation times a store operation served over HTTP
func (hm *HandlerMetrics) TrackStoreOperation(operation string) func() {
	timer := monitoring.NewTimer(hm.metrics, operation)
	return func() {
		timer.Stop("http")
	}
}
