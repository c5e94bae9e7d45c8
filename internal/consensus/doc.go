// Package consensus implements ChunkPaxos, the per-chunk single-decree
// consensus protocol the coordinator runs to decide which nodes own a
// chunk (spec.md §4.5). Different chunks never conflict with each other;
// a coordinator process runs proposer, acceptor, and learner roles for its
// own metadata, fanning PREPARE and ACCEPT probes out to the candidate node
// set over plain HTTP HEAD requests against the storage-node surface.
//
// Grounded on metadata-service/consensus.py: the ballot encoding (high 48
// bits millisecond timestamp, low 16 bits an intra-process counter), the
// three-phase state machine, and the retry/cleanup behavior are all carried
// over; the phase fan-out itself is parallelized with golang.org/x/sync/errgroup
// rather than the Python's asyncio.gather.
package consensus
