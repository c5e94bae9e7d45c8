// Package streaming ties a single video's playback pipeline together: a
// node-health prober, a chunk scheduler, and a playback buffer, run as two
// managed goroutines (download-ahead and consumption) behind one Session
// (spec.md §4.4).
//
// Goroutine lifecycle is grounded on cmd/coordinator/main.go's shutdown
// pattern (start in background, signal cancellation, wait for drain) —
// translated here from a process-level signal.Notify/http.Server.Shutdown
// pair into a context.CancelFunc/sync.WaitGroup pair scoped to one Session.
package streaming
