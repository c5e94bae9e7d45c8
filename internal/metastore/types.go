package metastore

import (
	"time"

	"github.com/dreamware/vstack/internal/wire"
)

// VideoStatus is a video's lifecycle status (spec.md §3).
type VideoStatus string

const (
	VideoUploading VideoStatus = "uploading"
	VideoActive    VideoStatus = "active"
	VideoDeleted   VideoStatus = "deleted"
)

// Video is the top-level entity a chunk belongs to.
type Video struct {
	VideoID          string
	Title            string
	DurationSec      int
	TotalChunks      int
	ChunkDurationSec int
	ChunkSizeBytes   int
	CreatedAt        time.Time
	Status           VideoStatus
}

// ReplicaStatus is a replica row's lifecycle status.
type ReplicaStatus string

const (
	ReplicaPending ReplicaStatus = "pending"
	ReplicaActive  ReplicaStatus = "active"
	ReplicaFailed  ReplicaStatus = "failed"
)

// Chunk is one fixed-duration slice of a video. (video_id, sequence_num) is
// unique; a chunk row only exists once its consensus record has COMMITTED
// (spec.md §3 "Lifecycle").
type Chunk struct {
	ChunkID        string
	VideoID        string
	SequenceNum    int
	SizeBytes      int
	Checksum       string
	RedundancyMode wire.RedundancyMode
}

// Replica is one node's copy of a REPLICATED chunk.
type Replica struct {
	ChunkID string
	NodeID  string
	NodeURL string
	Status  ReplicaStatus
	Ballot  uint64
}

// FragmentStatus is a fragment row's lifecycle status.
type FragmentStatus string

const (
	FragmentActive FragmentStatus = "active"
	FragmentFailed FragmentStatus = "failed"
)

// Fragment is one piece of an ERASURE chunk.
type Fragment struct {
	FragmentID    string
	ChunkID       string
	FragmentIndex int
	NodeID        string
	NodeURL       string
	SizeBytes     int
	Checksum      string
	Status        FragmentStatus
}

// NodeStatus is a storage node's liveness status (spec.md §3).
type NodeStatus string

const (
	NodeHealthy  NodeStatus = "healthy"
	NodeDegraded NodeStatus = "degraded"
	NodeDown     NodeStatus = "down"
)

// Node is a registered storage node.
type Node struct {
	NodeID        string
	BaseURL       string
	LastHeartbeat time.Time
	DiskUsagePct  float64
	ChunkCount    int
	Status        NodeStatus
	Version       string
}

// ConsensusPhase is where a chunk's ChunkPaxos instance currently stands
// (spec.md §4.5).
type ConsensusPhase string

const (
	PhaseNone      ConsensusPhase = "none"
	PhasePrepare   ConsensusPhase = "prepare"
	PhaseAccept    ConsensusPhase = "accept"
	PhaseCommitted ConsensusPhase = "committed"
)

// ConsensusRecord is the auxiliary, never-manifest-visible index of a
// chunk's consensus state.
type ConsensusRecord struct {
	ChunkID        string
	PromisedBallot uint64
	AcceptedBallot uint64
	AcceptedNodes  []string
	Phase          ConsensusPhase
}

// Popularity is the per-video view signal that drives redundancy.Policy.
type Popularity struct {
	VideoID   string
	ViewCount int
	LastView  time.Time
}
