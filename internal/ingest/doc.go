// Package ingest implements the upload path: register a video with the
// coordinator, fan chunks out to healthy storage nodes under a bounded
// concurrency limit, and commit each chunk's placement via consensus.
//
// Grounded on uploader/upload_coordinator.py: register_video, get_healthy_nodes,
// upload_chunks (semaphore-bounded parallel fan-out with a progress callback),
// and finalize_video. The semaphore translates to golang.org/x/sync/semaphore,
// the same dependency internal/scheduler already uses to bound concurrent
// downloads on the playback side.
package ingest
