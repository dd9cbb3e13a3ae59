// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tasks

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of Prometheus collectors the periodic tasks update.
// It is registered against a caller-supplied registry so tests can use a
// scratch prometheus.NewRegistry() instead of fighting over the global
// default one.
type Metrics struct {
	BlocksTotal            *prometheus.CounterVec
	PortScansTotal         prometheus.Counter
	BandwidthExceededTotal prometheus.Counter
	HTTPBruteforceTotal    prometheus.Counter
	ActiveBlocks           prometheus.Gauge
	CertExpiryDays         *prometheus.GaugeVec
}

// NewMetrics constructs and registers every collector against reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		BlocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_blocks_total",
			Help: "Blocks issued by the enforcement pipeline, labeled by reason.",
		}, []string{"reason"}),
		PortScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_port_scans_detected_total",
			Help: "Port-scan detections by the periodic monitor.",
		}),
		BandwidthExceededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_bandwidth_exceeded_total",
			Help: "Connection-rate anomalies flagged by the bandwidth monitor.",
		}),
		HTTPBruteforceTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_http_bruteforce_detected_total",
			Help: "HTTP authentication brute-force detections.",
		}),
		ActiveBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_active_blocks",
			Help: "Addresses currently blocked.",
		}),
		CertExpiryDays: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warden_cert_expiry_days",
			Help: "Days remaining before a monitored certificate expires.",
		}, []string{"host"}),
	}

	reg.MustRegister(m.BlocksTotal, m.PortScansTotal, m.BandwidthExceededTotal,
		m.HTTPBruteforceTotal, m.ActiveBlocks, m.CertExpiryDays)
	return m
}
