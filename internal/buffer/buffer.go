package buffer

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"
)

// Status is one of the five observability labels from spec.md §4.3. It
// never drives control flow.
type Status string

const (
	StatusEmpty        Status = "empty"
	StatusInitializing Status = "initializing"
	StatusLow          Status = "low"
	StatusHealthy      Status = "healthy"
	StatusFull         Status = "full"
)

// Config holds the buffer's watermark and capacity parameters (spec.md
// §4.3).
type Config struct {
	ChunkDurationSec int
	TargetBufferSec  int
	LowWaterMarkSec  int
	StartPlaybackSec int
	MaxMemoryBytes   int64
	SpillDir         string // "" uses the OS default temp directory
}

// LevelSample is one point of the recorded buffer-level history, for
// observability (spec.md's supplemented buffer history reporting).
type LevelSample struct {
	At       time.Time
	LevelSec float64
	Position int
}

type entry struct {
	chunkID   string
	seq       int
	data      []byte // nil if spilled to disk
	spillPath string // "" if kept in memory
	size      int
}

// Buffer is the single-monitor playback buffer: all mutation and condition
// signaling happen under one lock (spec.md §5 "single monitor").
type Buffer struct {
	cfg Config

	mu              sync.Mutex
	entries         []entry
	currentPosition int
	memoryBytes     int64

	buffered        int
	played          int
	underruns       int
	playbackStarted bool

	history []LevelSample

	changed *broadcastGate
	ready   *levelGate
}

// New builds an empty Buffer with the given configuration.
func New(cfg Config) *Buffer {
	return &Buffer{
		cfg:     cfg,
		changed: newBroadcastGate(),
		ready:   newLevelGate(),
	}
}

// Add inserts a chunk's bytes into the buffer in sequence order. It returns
// false (not rejected as an error) for a stale or duplicate sequence number
// (spec.md §4.3, universal property 6).
func (b *Buffer) Add(chunkID string, seq int, data []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq < b.currentPosition {
		return false, nil
	}

	idx := sort.Search(len(b.entries), func(i int) bool { return b.entries[i].seq >= seq })
	if idx < len(b.entries) && b.entries[idx].seq == seq {
		return false, nil
	}

	e := entry{chunkID: chunkID, seq: seq, size: len(data)}
	if b.memoryBytes+int64(len(data)) > b.cfg.MaxMemoryBytes {
		path, err := b.spill(data)
		if err != nil {
			return false, err
		}
		e.spillPath = path
	} else {
		e.data = data
		b.memoryBytes += int64(len(data))
	}

	b.entries = append(b.entries, entry{})
	copy(b.entries[idx+1:], b.entries[idx:])
	b.entries[idx] = e
	b.buffered++

	b.recordLevelLocked()
	b.changed.signal()
	if b.canStartLocked() {
		b.playbackStarted = true
		b.ready.set(true)
	}
	return true, nil
}

// Take removes and returns the head chunk if its sequence equals
// currentPosition. An empty return with ok=false after playback has started
// is an underrun; before playback starts, or when the head is ahead of
// currentPosition (a gap), it is not.
func (b *Buffer) Take() (data []byte, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		if b.playbackStarted {
			b.underruns++
			b.ready.set(false)
		}
		return nil, false, nil
	}

	head := b.entries[0]
	if head.seq != b.currentPosition {
		return nil, false, nil // gap: let the scheduler refill
	}

	b.entries = b.entries[1:]
	if head.spillPath != "" {
		data, err = os.ReadFile(head.spillPath)
		os.Remove(head.spillPath) // deleted only after bytes are in hand
		if err != nil {
			return nil, false, err
		}
	} else {
		data = head.data
		b.memoryBytes -= int64(head.size)
	}

	b.currentPosition++
	b.played++
	b.recordLevelLocked()
	b.changed.signal()
	return data, true, nil
}

// NextSequencesToFetch returns n consecutive sequence numbers starting just
// past the highest sequence currently buffered, or at currentPosition if
// the buffer is empty.
func (b *Buffer) NextSequencesToFetch(n int) []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.currentPosition
	if len(b.entries) > 0 {
		start = b.entries[len(b.entries)-1].seq + 1
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = start + i
	}
	return out
}

// WaitForChange blocks until the next Add or Take, ctx cancellation, or
// timeout (timeout <= 0 disables the timeout).
func (b *Buffer) WaitForChange(ctx context.Context, timeout time.Duration) {
	b.changed.wait(ctx, timeout)
}

// WaitForPlaybackReady blocks until the buffer first reaches
// StartPlaybackSec, or ctx is cancelled. It returns immediately if
// playback is already ready.
func (b *Buffer) WaitForPlaybackReady(ctx context.Context) {
	b.ready.wait(ctx)
}

// Reset drops all in-memory and spilled data and zeroes every counter.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.entries {
		if e.spillPath != "" {
			os.Remove(e.spillPath)
		}
	}
	b.entries = nil
	b.memoryBytes = 0
	b.currentPosition = 0
	b.buffered = 0
	b.played = 0
	b.underruns = 0
	b.playbackStarted = false
	b.history = nil
	b.ready.set(false)
	b.changed.signal()
}

// LevelSec reports the buffer level in seconds of content.
func (b *Buffer) LevelSec() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levelSecLocked()
}

func (b *Buffer) levelSecLocked() float64 {
	return float64(len(b.entries) * b.cfg.ChunkDurationSec)
}

// TargetSec returns the configured target buffer level in seconds, for
// callers (the streaming download loop) computing a fetch deficit.
func (b *Buffer) TargetSec() int {
	return b.cfg.TargetBufferSec
}

// NeedsMore is true iff the buffer level is below the low water mark.
func (b *Buffer) NeedsMore() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levelSecLocked() < float64(b.cfg.LowWaterMarkSec)
}

// CanStart is true iff the buffer level has reached StartPlaybackSec.
func (b *Buffer) CanStart() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canStartLocked()
}

func (b *Buffer) canStartLocked() bool {
	return b.levelSecLocked() >= float64(b.cfg.StartPlaybackSec)
}

// Status reports one of the five observability labels, following
// buffer_manager.py's get_buffer_status thresholds exactly.
func (b *Buffer) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	level := b.levelSecLocked()
	switch {
	case level == 0:
		return StatusEmpty
	case level < float64(b.cfg.StartPlaybackSec):
		return StatusInitializing
	case level < float64(b.cfg.LowWaterMarkSec):
		return StatusLow
	case level >= float64(b.cfg.TargetBufferSec):
		return StatusFull
	default:
		return StatusHealthy
	}
}

// Stats is a point-in-time snapshot of the buffer's counters.
type Stats struct {
	Buffered        int
	Played          int
	Underruns       int
	CurrentPosition int
	PlaybackStarted bool
	LevelSec        float64
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Buffered:        b.buffered,
		Played:          b.played,
		Underruns:       b.underruns,
		CurrentPosition: b.currentPosition,
		PlaybackStarted: b.playbackStarted,
		LevelSec:        b.levelSecLocked(),
	}
}

// History returns a copy of the recorded level samples, newest last,
// bounded to the most recent 1000 (matching buffer_manager.py's cap).
func (b *Buffer) History() []LevelSample {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LevelSample, len(b.history))
	copy(out, b.history)
	return out
}

func (b *Buffer) recordLevelLocked() {
	b.history = append(b.history, LevelSample{
		At:       time.Now(),
		LevelSec: b.levelSecLocked(),
		Position: b.currentPosition,
	})
	if len(b.history) > 1000 {
		b.history = b.history[len(b.history)-1000:]
	}
}

func (b *Buffer) spill(data []byte) (string, error) {
	f, err := os.CreateTemp(b.cfg.SpillDir, "vstack-buffer-*.chunk")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
