package api

import (
	"sync/atomic"
	"time"
)

type counter int

const (
	cRequests counter = iota
	cServerErrors
	cClientErrors
	cWrites
	cConflicts
	cInvalid
	cBatches
	cRateLimited
	numCounters
)

// Metrics is a fixed set of process-lifetime counters served on /metricz.
type Metrics struct {
	started time.Time
	n       [numCounters]atomic.Int64
}

// MetricsSnapshot is the /metricz body.
type MetricsSnapshot struct {
	UptimeSeconds      float64 `json:"uptime_seconds"`
	Requests           int64   `json:"requests"`
	ServerErrors       int64   `json:"server_errors"`
	ClientErrors       int64   `json:"client_errors"`
	WritesAccepted     int64   `json:"writes_accepted"`
	VersionConflicts   int64   `json:"version_conflicts"`
	ValidationFailures int64   `json:"validation_failures"`
	BatchRequests      int64   `json:"batch_requests"`
	RateLimited        int64   `json:"rate_limited"`
}

func NewMetrics() *Metrics {
	return &Metrics{started: time.Now()}
}

func (m *Metrics) inc(c counter) { m.n[c].Add(1) }

func (m *Metrics) RecordRequest()     { m.inc(cRequests) }
func (m *Metrics) RecordError()       { m.inc(cServerErrors) }
func (m *Metrics) RecordClientError() { m.inc(cClientErrors) }

// RecordWrite counts a document version accepted, single or batch item.
func (m *Metrics) RecordWrite()       { m.inc(cWrites) }
func (m *Metrics) RecordConflict()    { m.inc(cConflicts) }
func (m *Metrics) RecordInvalid()     { m.inc(cInvalid) }
func (m *Metrics) RecordBatch()       { m.inc(cBatches) }
func (m *Metrics) RecordRateLimited() { m.inc(cRateLimited) }

// Snapshot reads every counter. Counters are read one at a time, so a
// snapshot taken under load is not a single instant.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:      time.Since(m.started).Seconds(),
		Requests:           m.n[cRequests].Load(),
		ServerErrors:       m.n[cServerErrors].Load(),
		ClientErrors:       m.n[cClientErrors].Load(),
		WritesAccepted:     m.n[cWrites].Load(),
		VersionConflicts:   m.n[cConflicts].Load(),
		ValidationFailures: m.n[cInvalid].Load(),
		BatchRequests:      m.n[cBatches].Load(),
		RateLimited:        m.n[cRateLimited].Load(),
	}
}
