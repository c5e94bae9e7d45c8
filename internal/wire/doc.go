// Package wire provides the HTTP JSON plumbing and wire-format types shared
// by every V-Stack process: the coordinator, the streaming client, and the
// ingest worker all speak the same manifest shape and the same chunk
// identifier format, so that shape lives in one place.
//
// # Transport
//
// All inter-process communication is plain HTTP with JSON bodies; there is
// no RPC framework. PostJSON/GetJSON/PutBytes wrap the three request shapes
// every component needs (propose/commit, fetch, upload) around a shared
// *http.Client so connection pooling and timeouts are configured once.
//
// # Manifest
//
// Manifest is the coordinator's per-video view: metadata plus an ordered
// list of chunks and each chunk's placement. Clients and the ingest worker
// both decode it; neither ever constructs one.
package wire
