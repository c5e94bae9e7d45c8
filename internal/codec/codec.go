package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// ErrInsufficientFragments is returned by Decode when fewer than K fragments
// are supplied.
var ErrInsufficientFragments = errors.New("codec: insufficient fragments")

// Config names the (K, M) shape of the code: K data shards, M parity
// shards. Default per spec.md §4.6/§4.7 is (3, 2).
type Config struct {
	DataShards   int
	ParityShards int
}

// TotalShards returns K+M.
func (c Config) TotalShards() int { return c.DataShards + c.ParityShards }

// DataShards returns K, the number of fragments needed to decode.
func (c *Codec) DataShards() int { return c.cfg.DataShards }

// DefaultConfig is the spec's default (3 data, 2 parity) shape.
var DefaultConfig = Config{DataShards: 3, ParityShards: 2}

// Fragment is one piece of an erasure-coded chunk, carrying the metadata
// the manifest and the commit request need (spec.md §4.7).
type Fragment struct {
	FragmentID    string
	ChunkID       string
	FragmentIndex int
	Data          []byte
	Checksum      string
}

// Codec encodes and decodes chunks under a fixed (K, M) shape.
type Codec struct {
	cfg     Config
	encoder reedsolomon.Encoder
}

// New builds a Codec for the given shard configuration.
func New(cfg Config) (*Codec, error) {
	enc, err := reedsolomon.New(cfg.DataShards, cfg.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return &Codec{cfg: cfg, encoder: enc}, nil
}

// Encode right-pads data to a multiple of K, splits it into K data
// fragments, computes M parity fragments, and returns all K+M tagged with
// chunkID and their index.
func (c *Codec) Encode(chunkID string, data []byte) ([]Fragment, error) {
	k := c.cfg.DataShards
	shardSize := (len(data) + k - 1) / k
	if shardSize == 0 {
		shardSize = 1
	}

	shards := make([][]byte, c.cfg.TotalShards())
	for i := 0; i < k; i++ {
		shards[i] = make([]byte, shardSize)
	}
	for i, b := range data {
		shards[i/shardSize][i%shardSize] = b
	}
	for i := k; i < c.cfg.TotalShards(); i++ {
		shards[i] = make([]byte, shardSize)
	}

	if err := c.encoder.Encode(shards); err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}

	fragments := make([]Fragment, c.cfg.TotalShards())
	for i, shard := range shards {
		sum := sha256.Sum256(shard)
		fragments[i] = Fragment{
			FragmentID:    fmt.Sprintf("%s-frag-%d", chunkID, i),
			ChunkID:       chunkID,
			FragmentIndex: i,
			Data:          shard,
			Checksum:      hex.EncodeToString(sum[:]),
		}
	}
	return fragments, nil
}

// Decode reconstructs the original payload from whatever fragments survive,
// truncating back to originalLen. If the K data fragments (indices
// [0, K)) are all present, this is a plain concatenate-and-truncate with no
// codec work. Otherwise missing shards are reconstructed via the RS code.
// Returns ErrInsufficientFragments if fewer than K fragments are present.
func (c *Codec) Decode(fragments []Fragment, originalLen int) ([]byte, error) {
	k := c.cfg.DataShards
	total := c.cfg.TotalShards()

	shards := make([][]byte, total)
	present := 0
	for _, f := range fragments {
		if f.FragmentIndex < 0 || f.FragmentIndex >= total {
			continue
		}
		if shards[f.FragmentIndex] == nil {
			shards[f.FragmentIndex] = f.Data
			present++
		}
	}
	if present < k {
		return nil, ErrInsufficientFragments
	}

	haveAllData := true
	for i := 0; i < k; i++ {
		if shards[i] == nil {
			haveAllData = false
			break
		}
	}

	if !haveAllData {
		if err := c.encoder.Reconstruct(shards); err != nil {
			return nil, fmt.Errorf("codec: reconstruct: %w", err)
		}
	}

	out := make([]byte, 0, len(shards[0])*k)
	for i := 0; i < k; i++ {
		out = append(out, shards[i]...)
	}
	if originalLen < len(out) {
		out = out[:originalLen]
	}
	return out, nil
}

// VerifyFragment reports whether data's checksum matches the fragment's
// recorded checksum.
func VerifyFragment(f Fragment) bool {
	sum := sha256.Sum256(f.Data)
	return hex.EncodeToString(sum[:]) == f.Checksum
}

// StorageEfficiency reports the fractional storage saving of this code
// compared to replication factor r, per spec.md §4.7:
// (r - (K+M)/K) / r.
func (c Config) StorageEfficiency(r int) float64 {
	if r <= 0 {
		return 0
	}
	total := float64(c.TotalShards())
	k := float64(c.DataShards)
	return (float64(r) - total/k) / float64(r)
}
