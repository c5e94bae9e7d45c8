// Package buffer implements the playback buffer: an ordered, sequence-keyed
// queue of chunk bytes that serializes delivery to a consumer reading at
// wall-clock playback rate, with watermark-driven "needs more" signaling and
// spill-to-disk above a memory cap (spec.md §4.3).
//
// Grounded on client/buffer_manager.py's BufferManager: the water-mark
// semantics, the five status labels, and rebuffering-event counting are
// carried over directly. Waits are expressed as unbuffered channels that
// are closed to wake every waiter and then replaced (a "broadcast gate"), the idiomatic Go
// substitute for asyncio.Event/condition variables when a waiter also needs
// to select on context cancellation.
package buffer
