// Package metastore defines the metadata persistence interface for
// V-Stack's coordinator and provides an in-memory implementation.
//
// spec.md §1 places the real metadata store ("a transactional key-value/SQL
// store") out of scope as an external collaborator; this package exists
// only to give the coordinator something to drive its commit and manifest
// logic against, and to give tests a deterministic backend. The interface
// is shaped directly after the seven record kinds in spec.md §3 (Video,
// Chunk, Replica, Fragment, Node, Consensus record, Popularity record) so a
// real SQL-backed Store could implement the same interface without
// touching any caller.
//
// # Concurrency
//
// Store implementations must be safe for concurrent use: the coordinator's
// HTTP handlers and ChunkPaxos's parallel per-chunk instances all touch the
// store from multiple goroutines at once, though never the same chunk row
// concurrently (spec.md §5: "out-of-order writes to the same row are not
// allowed because phases are sequenced by a single proposer task").
package metastore
