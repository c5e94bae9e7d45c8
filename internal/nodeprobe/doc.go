// Package nodeprobe maintains a live performance estimate for every storage
// node a streaming client knows about: round-trip latency, observed download
// bandwidth, and a success ratio, each as a bounded sliding window, reduced to
// a single score the scheduler uses to rank nodes (spec.md §4.1).
//
// Grounded on internal/coordinator/health_monitor.go's ticker-driven,
// mutex-guarded periodic checker: the same start/stop/ticker shape is reused
// here, without a state-change callback, generalized from a binary healthy/unhealthy flag to a
// windowed scoring function.
package nodeprobe
