package buffer

import (
	"fmt"
	"math"

	"github.com/jbrzusto/digdar"
)

// MaxArenaBytes bounds the size of the pulse ring buffer.  The
// redpitaya has 512 MB of RAM; we refuse anything that could not
// possibly fit.
const MaxArenaBytes = 1 << 30

// Ring is a fixed-capacity circular store of pulse records.  All slots
// live contiguously in one arena, allocated once and never resized.
//
// Ring does not arbitrate between a writer and a reader of the same
// slot; see Chunks for the handoff discipline.
type Ring struct {
	arena    []byte // capacity * slotSize bytes
	slotSize int    // bytes per pulse record
	capacity int    // number of slots
	samples  int    // samples per pulse
}

// NewRing allocates a ring of capacity slots, each big enough for one
// pulse of samplesPerPulse samples.  All slots start out invalid (zero
// sentinel).
func NewRing(capacity, samplesPerPulse int) (*Ring, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("ring capacity %d: %w", capacity, digdar.ErrAllocation)
	}
	if samplesPerPulse < 0 {
		return nil, fmt.Errorf("samples per pulse %d: %w", samplesPerPulse, digdar.ErrAllocation)
	}
	size := SlotSize(samplesPerPulse)
	if capacity > math.MaxInt/size || capacity*size > MaxArenaBytes {
		return nil, fmt.Errorf("ring of %d slots of %d bytes exceeds %d bytes: %w", capacity, size, MaxArenaBytes, digdar.ErrAllocation)
	}
	return &Ring{
		arena:    make([]byte, capacity*size),
		slotSize: size,
		capacity: capacity,
		samples:  samplesPerPulse,
	}, nil
}

// Capacity returns the number of slots in the ring.
func (r *Ring) Capacity() int { return r.capacity }

// SlotSize returns the size in bytes of each slot.
func (r *Ring) SlotSize() int { return r.slotSize }

// SamplesPerPulse returns the number of samples in each slot.
func (r *Ring) SamplesPerPulse() int { return r.samples }

// index maps any integer onto a slot index.
func (r *Ring) index(i int) int {
	i %= r.capacity
	if i < 0 {
		i += r.capacity
	}
	return i
}

// Slot returns a mutable view of slot i (modulo capacity).
func (r *Ring) Slot(i int) Slot {
	off := r.index(i) * r.slotSize
	return Slot(r.arena[off : off+r.slotSize : off+r.slotSize])
}

// Slots returns views of count consecutive slots starting at start,
// wrapping at the end of the ring.  The views are meant for reading;
// callers must only ask for slots the writer has published.
func (r *Ring) Slots(start, count int) ([]Slot, error) {
	if count < 0 || count > r.capacity {
		return nil, fmt.Errorf("%d slots requested from ring of %d: %w", count, r.capacity, digdar.ErrInvalidChunkSize)
	}
	slots := make([]Slot, count)
	for i := range slots {
		slots[i] = r.Slot(start + i)
	}
	return slots, nil
}

// Bytes returns the arena bytes of count consecutive slots starting at
// start.  The run must not wrap past the end of the ring.
func (r *Ring) Bytes(start, count int) ([]byte, error) {
	i := r.index(start)
	if count < 0 || i+count > r.capacity {
		return nil, fmt.Errorf("%d slots at %d do not fit in ring of %d: %w", count, i, r.capacity, digdar.ErrInvalidChunkSize)
	}
	return r.arena[i*r.slotSize : (i+count)*r.slotSize], nil
}
