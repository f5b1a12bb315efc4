package es

import (
	"github.com/harborward/theseus-go/core/metrics"
)

// ESMetrics is the instrumentation port of the event-sourcing core. The nop
// implementation is the default everywhere; adapters/prometheus provides the
// real one.
type ESMetrics interface {
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, n int)
	ConcurrencyConflict(aggType string)

	CacheHit(aggType string)
	CacheMiss(aggType string)

	SnapshotWriteDuration(aggType string) metrics.Timer
	SnapshotWriteFailure(aggType string)

	ConsumerEventDuration(eventType string, live bool) metrics.Timer
	ConsumerEventProcessed(eventType string, live bool, success bool)
	ConsumerLag(consumerName string, lag uint64)

	ProjectionApplied(contextName string)
	ProjectionStalled(contextName string)
}

type nopESMetrics struct{}

func NopESMetrics() ESMetrics { return nopESMetrics{} }

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer            { return metrics.NopTimer() }
func (nopESMetrics) RepoSaveDuration(string) metrics.Timer            { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)                       {}
func (nopESMetrics) ConcurrencyConflict(string)                       {}
func (nopESMetrics) CacheHit(string)                                  {}
func (nopESMetrics) CacheMiss(string)                                 {}
func (nopESMetrics) SnapshotWriteDuration(string) metrics.Timer       { return metrics.NopTimer() }
func (nopESMetrics) SnapshotWriteFailure(string)                      {}
func (nopESMetrics) ConsumerEventDuration(string, bool) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) ConsumerEventProcessed(string, bool, bool)        {}
func (nopESMetrics) ConsumerLag(string, uint64)                       {}
func (nopESMetrics) ProjectionApplied(string)                         {}
func (nopESMetrics) ProjectionStalled(string)                         {}

var _ ESMetrics = nopESMetrics{}
