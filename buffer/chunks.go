package buffer

import (
	"fmt"
	"sync/atomic"

	"github.com/jbrzusto/digdar"
)

const noLease = -1

// A Chunk is a run of consecutive ring slots handed from the
// acquisition goroutine to the delivery goroutine.
type Chunk struct {
	Seq    uint64 // chunk sequence number since the start of the run
	Start  int    // ring index of the chunk's first slot
	Pulses int    // pulses actually filled; less than Size only for the final chunk
	Size   int    // nominal pulses per chunk
}

// Partial reports whether the chunk was cut short by the end of
// acquisition.
func (c Chunk) Partial() bool { return c.Pulses < c.Size }

// Chunks is the handoff between exactly one producer (the acquisition
// loop) and exactly one consumer (the delivery loop) sharing a Ring.
//
// Coordination uses two atomics and no locks, so the producer never
// waits for the consumer:
//
//   - written counts published pulses.  The producer fills a slot and
//     then increments written; a consumer that loads written may read
//     every slot below it.
//
//   - lease holds the sequence number of the chunk the consumer is
//     delivering (or noLease).  The producer does not write into a
//     leased chunk's slots on a later lap of the ring; it drops those
//     pulses instead.
//
// Unleased chunks that the consumer has not yet retrieved are
// overwritten when the producer laps the ring.  When the consumer
// leases a chunk it re-checks written; if the producer has already
// begun overwriting that chunk, the consumer skips forward to the
// oldest chunk that is still intact and counts the skipped chunks as
// overruns.  Losing data this way is expected when the consumer falls
// behind; sizing the ring at several chunks keeps it rare.
type Chunks struct {
	ring      *Ring
	size      uint64 // pulses per chunk
	numChunks uint64 // chunks in the ring
	capacity  uint64 // slots in the ring

	written  atomic.Uint64 // pulses published by the producer
	lease    atomic.Int64  // chunk being delivered, or noLease
	closed   atomic.Bool   // producer has published its last pulse
	dropped  atomic.Uint64 // pulses dropped because their slots were leased
	overruns atomic.Uint64 // chunks overwritten before the consumer got to them

	// consumer-owned
	next   uint64 // sequence number of the next chunk to offer
	leased bool   // lease has been taken and verified for next
}

// NewChunks sets up chunk handoff over ring with chunkSize pulses per
// chunk.  The ring capacity must be a whole number of chunks.
func NewChunks(ring *Ring, chunkSize int) (*Chunks, error) {
	capacity := ring.Capacity()
	if chunkSize < 1 || chunkSize > capacity || capacity%chunkSize != 0 {
		return nil, fmt.Errorf("chunk size %d for ring of %d pulses: %w", chunkSize, capacity, digdar.ErrInvalidChunkSize)
	}
	c := &Chunks{
		ring:      ring,
		size:      uint64(chunkSize),
		numChunks: uint64(capacity / chunkSize),
		capacity:  uint64(capacity),
	}
	c.lease.Store(noLease)
	return c, nil
}

// Ring returns the ring the chunks are carved from.
func (c *Chunks) Ring() *Ring { return c.ring }

// ChunkSize returns the nominal number of pulses per chunk.
func (c *Chunks) ChunkSize() int { return int(c.size) }

// Next returns the slot for the next pulse.  It returns false if that
// slot belongs to the chunk the consumer is delivering; the producer
// must then drop the pulse.  Only the producer may call Next.
func (c *Chunks) Next() (Slot, bool) {
	n := c.written.Load()
	if l := c.lease.Load(); l != noLease {
		chunk, leased := n/c.size, uint64(l)
		if chunk > leased && (chunk-leased)%c.numChunks == 0 {
			c.dropped.Add(1)
			return nil, false
		}
	}
	return c.ring.Slot(int(n % c.capacity)), true
}

// Publish makes the slot most recently returned by Next visible to the
// consumer.  This is the only synchronization point between producer
// and consumer.
func (c *Chunks) Publish() {
	c.written.Add(1)
}

// Close marks the end of acquisition.  Any partially filled final
// chunk will be offered once.  The producer must not call Next or
// Publish afterwards.
func (c *Chunks) Close() {
	c.closed.Store(true)
}

// Written returns the number of pulses published so far.
func (c *Chunks) Written() uint64 { return c.written.Load() }

// Dropped returns the number of pulses the producer discarded because
// the consumer held their slots.
func (c *Chunks) Dropped() uint64 { return c.dropped.Load() }

// Overruns returns the number of chunks overwritten before the
// consumer could retrieve them.
func (c *Chunks) Overruns() uint64 { return c.overruns.Load() }

// TryGetChunk returns the next completed chunk, if there is one.  After
// Close it also returns a final partial chunk, exactly once.  The chunk
// stays leased until Release.  Only the consumer may call TryGetChunk.
func (c *Chunks) TryGetChunk() (Chunk, bool) {
	for {
		// closed must be loaded before written: if it was set, written
		// is final.
		closed := c.closed.Load()
		w := c.written.Load()
		start := c.next * c.size
		var pulses uint64
		switch {
		case w >= start+c.size:
			pulses = c.size
		case closed && w > start:
			pulses = w - start
		default:
			return Chunk{}, false
		}
		if !c.leased {
			c.lease.Store(int64(c.next))
			if c.stale(c.written.Load(), start, closed) {
				c.skip(closed)
				continue
			}
			c.leased = true
		}
		return Chunk{
			Seq:    c.next,
			Start:  int(start % c.capacity),
			Pulses: int(pulses),
			Size:   int(c.size),
		}, true
	}
}

// stale reports whether, with w pulses published after leasing the
// chunk starting at start, the producer may have written over it.
// While the producer runs, slot w may be in the middle of being
// written.
func (c *Chunks) stale(w, start uint64, closed bool) bool {
	limit := start + c.capacity
	if closed {
		return w > limit
	}
	return w >= limit
}

// skip moves next forward to the oldest chunk the producer has not
// started to overwrite and leases it, whether or not it is complete,
// so the consumer is guaranteed to make progress.
func (c *Chunks) skip(closed bool) {
	for {
		w := c.written.Load()
		oldest := w + 1 - c.capacity
		if closed {
			oldest = w - c.capacity
		}
		target := (oldest + c.size - 1) / c.size
		if target <= c.next {
			target = c.next + 1
		}
		c.overruns.Add(target - c.next)
		c.next = target
		c.lease.Store(int64(target))
		if !c.stale(c.written.Load(), target*c.size, closed) {
			c.leased = true
			return
		}
	}
}

// Release returns a chunk obtained from TryGetChunk, allowing the
// producer to reuse its slots.
func (c *Chunks) Release(ch Chunk) {
	c.next = ch.Seq + 1
	c.leased = false
	c.lease.Store(noLease)
}

// Drained reports whether acquisition has ended and every published
// pulse has been offered.
func (c *Chunks) Drained() bool {
	return c.closed.Load() && c.written.Load() <= c.next*c.size
}
