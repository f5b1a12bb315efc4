// Package metrics holds small instrumentation interfaces so the core
// packages stay decoupled from any concrete backend (Prometheus etc.).
package metrics

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge goes up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
}

// Timer records the duration of one operation. Create it when the operation
// starts and call ObserveDuration when it completes:
//
//	defer m.StoreAppendDuration("ship").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
