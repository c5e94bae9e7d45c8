package redundancy

import (
	"testing"

	"github.com/dreamware/vstack/internal/wire"
	"github.com/stretchr/testify/assert"
)

// TestS7RedundancySelection exercises spec.md §8 scenario S7 literally.
func TestS7RedundancySelection(t *testing.T) {
	cfg := Config{ViewThreshold: 1000, ReplicationR: 3, ErasureK: 3, ErasureM: 2}
	p := NewPolicy(cfg)

	d := p.Decide("v1", 1500)
	assert.Equal(t, wire.Replicated, d.Mode)

	d = p.Decide("v1", 500)
	assert.Equal(t, wire.Erasure, d.Mode)

	p.SetOverride("v1", wire.Erasure)
	d = p.Decide("v1", 5000)
	assert.Equal(t, wire.Erasure, d.Mode)

	p.ClearOverride("v1")
	d = p.Decide("v1", 5000)
	assert.Equal(t, wire.Replicated, d.Mode)
}

func TestDecisionRequiredNodesAndTolerance(t *testing.T) {
	p := NewPolicy(DefaultConfig)

	rep := p.Decide("v-rep", 2000)
	assert.Equal(t, 3, rep.RequiredNodes)
	assert.Equal(t, 2, rep.TolerableFailures)

	era := p.Decide("v-era", 10)
	assert.Equal(t, 5, era.RequiredNodes)
	assert.Equal(t, 2, era.TolerableFailures)
}

func TestAdvisorRecommendsReplicationOnGrowth(t *testing.T) {
	a := NewAdvisor(DefaultConfig)
	rec := a.Recommend(wire.Erasure, 1500, Increasing)
	assert.Equal(t, wire.Replicated, rec.Mode)
}

func TestAdvisorRecommendsErasureOnDecline(t *testing.T) {
	a := NewAdvisor(DefaultConfig)
	rec := a.Recommend(wire.Replicated, 100, Decreasing)
	assert.Equal(t, wire.Erasure, rec.Mode)
}

func TestAdvisorNoChangeWhenStable(t *testing.T) {
	a := NewAdvisor(DefaultConfig)
	rec := a.Recommend(wire.Replicated, 2000, Stable)
	assert.Empty(t, rec.Mode)
}

func TestStorageCostBytes(t *testing.T) {
	p := NewPolicy(DefaultConfig)
	rep := p.Decide("v1", 2000)
	era := p.Decide("v2", 10)

	assert.Equal(t, float64(3*2_097_152), rep.StorageCostBytes(2_097_152))
	assert.InDelta(t, float64(5)/3*2_097_152, era.StorageCostBytes(2_097_152), 1e-6)
}
