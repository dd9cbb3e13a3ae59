// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package tasks

import (
	"time"

	"warden/internal/logging"
	"warden/internal/scheduler"
)

// ExpiryReconciler is the narrow capability the expiry-sweep wrapper
// needs from the lifecycle manager.
type ExpiryReconciler interface {
	ExpirySweep() error
}

// BandwidthSampler is the narrow capability the bandwidth-sample tick
// needs from Monitor.
type BandwidthSampler interface {
	SampleAllConnectionRates()
}

// Tasks wires the periodic recurring jobs onto a Scheduler: the expiry
// sweep (a thin wrapper over the lifecycle manager), the cert-expiry
// sweep, and the bandwidth-sample tick. Port-scan and HTTP-bruteforce
// detection are event-driven (see Monitor) and need no tick of their
// own.
type Tasks struct {
	sched     *scheduler.Scoped
	lifecyle  ExpiryReconciler
	cert      *CertMonitor
	bandwidth BandwidthSampler
	logger    *logging.Logger
}

// New creates Tasks bound to sched. Call Start to arm the recurring jobs.
// bandwidth may be nil, in which case no bandwidth-sample tick is armed.
func New(sched *scheduler.Scheduler, lifecycle ExpiryReconciler, cert *CertMonitor, bandwidth BandwidthSampler) *Tasks {
	return &Tasks{
		sched:     scheduler.NewScoped(sched),
		lifecyle:  lifecycle,
		cert:      cert,
		bandwidth: bandwidth,
		logger:    logging.Default().WithComponent("tasks"),
	}
}

// Start arms the periodic jobs: an expiry sweep every expirySweepEvery, a
// bandwidth-sample tick every bandwidthSampleEvery, and (if a CertMonitor
// was supplied) a cert sweep every certSweepEvery.
func (t *Tasks) Start(expirySweepEvery, bandwidthSampleEvery, certSweepEvery time.Duration) {
	t.sched.ScheduleRecurring(time.Now().Add(expirySweepEvery), expirySweepEvery, func(string) {
		if err := t.lifecyle.ExpirySweep(); err != nil {
			t.logger.Error("expiry sweep failed", "error", err)
		}
	})

	if t.bandwidth != nil && bandwidthSampleEvery > 0 {
		t.sched.ScheduleRecurring(time.Now().Add(bandwidthSampleEvery), bandwidthSampleEvery, func(string) {
			t.bandwidth.SampleAllConnectionRates()
		})
	}

	if t.cert != nil && certSweepEvery > 0 {
		t.sched.ScheduleRecurring(time.Now().Add(certSweepEvery), certSweepEvery, func(string) {
			t.cert.Sweep()
		})
	}
}

// Stop cancels every job Tasks scheduled, without disturbing jobs owned
// by other components sharing the same Scheduler.
func (t *Tasks) Stop() {
	t.sched.CancelAll()
}
