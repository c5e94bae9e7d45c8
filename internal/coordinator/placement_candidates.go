package coordinator

import (
	"hash/fnv"
)

// candidateNodes picks n distinct node URLs from healthy, starting at a
// deterministic offset derived from chunkID so that placement proposals for
// different chunks spread evenly across the node list instead of always
// starting from index 0. Adapted from torua's ShardRegistry, which used the
// same FNV-1a hash to pick a key's owning shard; here the hash instead picks
// a starting offset into the healthy-node list for ChunkPaxos's candidate
// node_set, since placement no longer needs a persistent key->shard mapping
// (ChunkPaxos decides ownership directly, per chunk).
//
// Returns fewer than n entries if healthy has fewer than n nodes.
func candidateNodes(chunkID string, healthy []string, n int) []string {
	if len(healthy) == 0 || n <= 0 {
		return nil
	}
	if n > len(healthy) {
		n = len(healthy)
	}

	h := fnv.New32a()
	h.Write([]byte(chunkID))
	offset := int(h.Sum32()) % len(healthy)
	if offset < 0 {
		offset += len(healthy)
	}

	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = healthy[(offset+i)%len(healthy)]
	}
	return out
}
