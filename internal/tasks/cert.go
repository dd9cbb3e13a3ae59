// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tasks

import (
	"crypto/tls"
	"net"
	"time"

	"warden/internal/logging"
)

// CertMonitor periodically dials each configured host and inspects the
// leaf certificate's NotAfter. It only checks expiry; deep packet
// inspection or TLS fingerprinting is out of scope.
type CertMonitor struct {
	hosts       []string
	warningDays int
	metrics     *Metrics
	logger      *logging.Logger
	dialFn      func(network, addr string, cfg *tls.Config) (certNotAfter, error)
}

type certNotAfter interface {
	NotAfter() time.Time
	Close() error
}

type tlsConnAdapter struct{ conn *tls.Conn }

func (a tlsConnAdapter) NotAfter() time.Time {
	state := a.conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return time.Time{}
	}
	return state.PeerCertificates[0].NotAfter
}

func (a tlsConnAdapter) Close() error { return a.conn.Close() }

// NewCertMonitor creates a CertMonitor for hosts (each "host:port").
func NewCertMonitor(hosts []string, warningDays int, metrics *Metrics) *CertMonitor {
	return &CertMonitor{
		hosts:       hosts,
		warningDays: warningDays,
		metrics:     metrics,
		logger:      logging.Default().WithComponent("tasks.cert"),
		dialFn: func(network, addr string, cfg *tls.Config) (certNotAfter, error) {
			conn, err := tls.DialWithDialer(&tlsDialer, network, addr, cfg)
			if err != nil {
				return nil, err
			}
			return tlsConnAdapter{conn: conn}, nil
		},
	}
}

var tlsDialer = net.Dialer{Timeout: 5 * time.Second}

// Sweep checks every configured host and updates the CertExpiryDays gauge.
// Dial failures are logged and skipped rather than propagated, since one
// unreachable host shouldn't stop the others from being checked.
func (c *CertMonitor) Sweep() {
	for _, host := range c.hosts {
		conn, err := c.dialFn("tcp", host, &tls.Config{InsecureSkipVerify: false})
		if err != nil {
			c.logger.Warn("cert monitor dial failed", "host", host, "error", err)
			continue
		}
		notAfter := conn.NotAfter()
		conn.Close()
		if notAfter.IsZero() {
			continue
		}

		daysLeft := int(time.Until(notAfter).Hours() / 24)
		if c.metrics != nil {
			c.metrics.CertExpiryDays.WithLabelValues(host).Set(float64(daysLeft))
		}
		if daysLeft <= c.warningDays {
			c.logger.Warn("certificate nearing expiry", "host", host, "days_left", daysLeft)
		}
	}
}
