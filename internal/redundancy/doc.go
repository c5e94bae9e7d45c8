// Package redundancy implements the per-video redundancy-mode decision
// (spec.md §4.6): given a view count and an optional manual override,
// choose between triple replication and (K, M) erasure coding, and report
// the storage cost and fault tolerance of that choice. It also carries the
// migration advisor, which only recommends a mode change — actual
// re-encoding is out of scope for this core (spec.md §4.6).
//
// Grounded on metadata-service/redundancy_manager.py in the original
// source; translated to Go's tagged-union Placement type per spec.md §9
// rather than carrying a boolean "is erasure" flag through call sites.
package redundancy
