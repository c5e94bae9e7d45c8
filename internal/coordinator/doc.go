// Package coordinator implements the control plane for the distributed video
// store: video/chunk/replica/fragment/node metadata, ChunkPaxos-backed
// placement commits, node liveness tracking, and redundancy-mode decisions,
// all surfaced over a plain net/http handler set.
//
// # Overview
//
// The coordinator is the one component with a database behind it (here,
// metastore.Store). It never talks to storage nodes on the data path —
// replica addresses in a manifest are handed to the client directly — but it
// does talk to them during placement commits (ChunkPaxos's HEAD probes) and
// receives their heartbeats.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            COORDINATOR               │
//	├─────────────────────────────────────┤
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   metastore.Store             │  │
//	│  │   - video/chunk/replica rows  │  │
//	│  │   - node liveness rows        │  │
//	│  │   - popularity rows           │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   consensus.ChunkPaxos         │  │
//	│  │   - per-chunk placement vote  │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   liveness sweeper            │  │
//	│  │   - heartbeat-TTL down events │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   redundancy.Policy/Advisor    │  │
//	│  │   - mode decision per video   │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	└─────────────────────────────────────┘
//
// # HTTP surface
//
//	GET  /manifest/{video_id}
//	POST /video
//	POST /chunk/{id}/commit
//	POST /nodes/{node_id}/heartbeat
//	GET  /nodes/healthy
//	POST /video/{id}/view
//	GET  /video/{id}/redundancy
//	POST /video/{id}/redundancy/override
//
// The last three are a SPEC_FULL.md addition over the distilled component
// table: thin handlers giving the redundancy policy and popularity record a
// reachable surface.
package coordinator
