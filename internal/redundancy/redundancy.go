package redundancy

import (
	"sync"

	"github.com/dreamware/vstack/internal/wire"
)

// Trend tags the direction of a video's view count, used only by the
// migration advisor.
type Trend string

const (
	Increasing Trend = "increasing"
	Stable     Trend = "stable"
	Decreasing Trend = "decreasing"
)

// Config holds the thresholds and shape parameters behind the decision
// function (spec.md §4.6, §9's explicit-typed-config note).
type Config struct {
	ViewThreshold    int
	ReplicationR     int
	ErasureK         int
	ErasureM         int
}

// DefaultConfig matches spec.md's defaults: threshold 1000 views,
// replication factor 3, erasure (3, 2).
var DefaultConfig = Config{
	ViewThreshold: 1000,
	ReplicationR: 3,
	ErasureK:     3,
	ErasureM:     2,
}

// Decision is the result of evaluating the policy for one video.
type Decision struct {
	Mode             wire.RedundancyMode
	ReplicationR     int
	ErasureK         int
	ErasureM         int
	RequiredNodes    int
	TolerableFailures int
}

// Policy decides redundancy mode per video, honoring manual overrides.
// Thread-safe: overrides are guarded by a mutex since ingest, the view
// endpoint, and the override endpoint may all touch the same video
// concurrently.
type Policy struct {
	cfg       Config
	mu        sync.RWMutex
	overrides map[string]wire.RedundancyMode
}

// NewPolicy builds a Policy under the given configuration.
func NewPolicy(cfg Config) *Policy {
	return &Policy{cfg: cfg, overrides: make(map[string]wire.RedundancyMode)}
}

// SetOverride pins a video to a mode regardless of its view count.
func (p *Policy) SetOverride(videoID string, mode wire.RedundancyMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[videoID] = mode
}

// ClearOverride removes a pinned mode, reverting to view-count-driven
// selection.
func (p *Policy) ClearOverride(videoID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.overrides, videoID)
}

// Decide returns the redundancy decision for a video given its view count.
// A manual override, if set, always wins.
func (p *Policy) Decide(videoID string, views int) Decision {
	p.mu.RLock()
	override, overridden := p.overrides[videoID]
	p.mu.RUnlock()

	mode := p.modeForViews(views)
	if overridden {
		mode = override
	}
	return p.decision(mode)
}

func (p *Policy) modeForViews(views int) wire.RedundancyMode {
	if views > p.cfg.ViewThreshold {
		return wire.Replicated
	}
	return wire.Erasure
}

func (p *Policy) decision(mode wire.RedundancyMode) Decision {
	if mode == wire.Replicated {
		return Decision{
			Mode:              wire.Replicated,
			ReplicationR:      p.cfg.ReplicationR,
			RequiredNodes:     p.cfg.ReplicationR,
			TolerableFailures: p.cfg.ReplicationR - 1,
		}
	}
	return Decision{
		Mode:              wire.Erasure,
		ErasureK:          p.cfg.ErasureK,
		ErasureM:          p.cfg.ErasureM,
		RequiredNodes:     p.cfg.ErasureK + p.cfg.ErasureM,
		TolerableFailures: p.cfg.ErasureM,
	}
}

// StorageCostBytes returns the storage cost per chunk under a decision,
// given the chunk's plain payload size.
func (d Decision) StorageCostBytes(chunkSizeBytes int) float64 {
	if d.Mode == wire.Replicated {
		return float64(d.ReplicationR * chunkSizeBytes)
	}
	return float64(d.ErasureK+d.ErasureM) / float64(d.ErasureK) * float64(chunkSizeBytes)
}

// Recommendation names a migration the advisor suggests; Mode is empty
// when no change is recommended.
type Recommendation struct {
	Mode   wire.RedundancyMode
	Reason string
}

// Advisor recommends (never performs) a mode migration given a video's
// current mode, view count, and trend. Spec.md §4.6: REPLICATED is
// recommended for an erasure-coded video whose views exceeded the
// threshold while increasing; ERASURE is recommended for a replicated
// video whose views fell below half the threshold while decreasing.
type Advisor struct {
	cfg Config
}

// NewAdvisor builds an Advisor under the given configuration.
func NewAdvisor(cfg Config) *Advisor {
	return &Advisor{cfg: cfg}
}

// Recommend returns the advisor's recommendation, or a zero-value
// Recommendation (empty Mode) if no change is warranted.
func (a *Advisor) Recommend(currentMode wire.RedundancyMode, views int, trend Trend) Recommendation {
	switch currentMode {
	case wire.Erasure:
		if views > a.cfg.ViewThreshold && trend == Increasing {
			return Recommendation{Mode: wire.Replicated, Reason: "views exceeded threshold and increasing"}
		}
	case wire.Replicated:
		if views < a.cfg.ViewThreshold/2 && trend == Decreasing {
			return Recommendation{Mode: wire.Erasure, Reason: "views fell below half threshold and decreasing"}
		}
	}
	return Recommendation{}
}

// Comparison holds the storage cost and fault tolerance of both modes for a
// given chunk size, for the reporting surfaces described in SPEC_FULL.md §10
// (a supplemented feature, not present in the distilled spec's component
// contract).
type Comparison struct {
	Replicated Decision
	Erasure    Decision
	ReplicatedCostBytes float64
	ErasureCostBytes    float64
}

// Compare returns both modes' decisions and storage costs side by side.
func (p *Policy) Compare(chunkSizeBytes int) Comparison {
	rep := p.decision(wire.Replicated)
	era := p.decision(wire.Erasure)
	return Comparison{
		Replicated:          rep,
		Erasure:             era,
		ReplicatedCostBytes: rep.StorageCostBytes(chunkSizeBytes),
		ErasureCostBytes:    era.StorageCostBytes(chunkSizeBytes),
	}
}
