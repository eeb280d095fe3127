package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsHandler serves the default registry, where the otel prometheus exporter registers
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}
