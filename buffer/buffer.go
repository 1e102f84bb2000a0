// Buffer radar data.
//
// Pulses acquired from the FPGA are stored in a ring buffer of
// fixed-size slots.  Each slot holds one pulse record: a fixed header
// of trigger and azimuth metadata followed by the pulse's samples.
// The slot layout is also the on-wire and on-disk record format, so a
// run of slots can be written to a stream without any re-encoding.
//
// The acquisition goroutine fills slots and publishes them; the
// delivery goroutine receives completed runs of slots ("chunks")
// through Chunks.
package buffer

import (
	"encoding/binary"
	"fmt"

	"github.com/jbrzusto/digdar"
)

// A Sample represents the echo strength for a short period of time,
// e.g. 8 ns.  On the redpitaya, the fast ADCs have 14 bits precision,
// but we pack these values (or their sums, when decimating by summing)
// into a uint16.
type Sample uint16

// Record layout.  All fields are little-endian.
const (
	MAGIC = 0xf00ff00f // sentinel marking a completely filled slot

	offMagic        = 0
	offTrigCount    = 4
	offTrigClock    = 8
	offACPClock     = 16
	offARPClock     = 24
	offACPCount     = 32
	offARPCount     = 36
	offACPAtARP     = 40
	offRefSec       = 44
	offRefNsec      = 48
	offElevation    = 52
	offPolarization = 54

	HeaderSize = 56 // bytes of metadata preceding the samples
	SampleSize = 2  // bytes per sample
)

// Header is the metadata recorded with each digitized pulse.  The
// trigger and azimuth counters are copies of the FPGA registers at
// the time the pulse was captured, so the pulse can be ascribed to an
// antenna azimuth.
type Header struct {
	Magic        uint32 // MAGIC when the slot is valid
	TrigCount    uint32 // count of trigger pulses since reset, including those not captured
	TrigClock    uint64 // ADC clock ticks at the trigger pulse
	ACPClock     uint64 // ADC clock ticks at the most recent ACP
	ARPClock     uint64 // ADC clock ticks at the most recent ARP
	ACPCount     uint32 // ACPs since reset
	ARPCount     uint32 // ARPs since reset; could wrap, but will take 170 years even at 48 RPM
	ACPAtARP     uint32 // ACP count at the most recent ARP
	RefSec       uint32 // wall clock seconds corresponding to ADC clock zero
	RefNsec      uint32 // nanoseconds part of the same
	Elevation    uint16 // reserved; 0 for single-beam radars
	Polarization uint16 // reserved; 0 for single-beam radars
}

// SlotSize returns the number of bytes needed to store one pulse
// with n samples.
func SlotSize(n int) int {
	return HeaderSize + n*SampleSize
}

// A Slot is a view of one pulse record in the ring buffer arena.  The
// view aliases the arena, so writes through it are visible to readers
// of the same slot.
type Slot []byte

// Magic returns the slot's sentinel field.
func (s Slot) Magic() uint32 {
	return binary.LittleEndian.Uint32(s[offMagic:])
}

// SetMagic sets the sentinel field.  The acquisition loop clears it
// before filling a slot and stamps MAGIC once all other fields are in
// place.
func (s Slot) SetMagic(m uint32) {
	binary.LittleEndian.PutUint32(s[offMagic:], m)
}

// Valid reports whether the slot carries the pulse sentinel.
func (s Slot) Valid() bool {
	return len(s) >= HeaderSize && s.Magic() == MAGIC
}

// Check returns an error wrapping digdar.ErrBufferIntegrity if the slot
// is not valid.
func (s Slot) Check() error {
	if len(s) < HeaderSize {
		return fmt.Errorf("slot of %d bytes is shorter than header: %w", len(s), digdar.ErrBufferIntegrity)
	}
	if m := s.Magic(); m != MAGIC {
		return fmt.Errorf("slot magic 0x%08x, want 0x%08x: %w", m, uint32(MAGIC), digdar.ErrBufferIntegrity)
	}
	return nil
}

// Header decodes the slot's metadata.
func (s Slot) Header() (h Header) {
	le := binary.LittleEndian
	h.Magic = le.Uint32(s[offMagic:])
	h.TrigCount = le.Uint32(s[offTrigCount:])
	h.TrigClock = le.Uint64(s[offTrigClock:])
	h.ACPClock = le.Uint64(s[offACPClock:])
	h.ARPClock = le.Uint64(s[offARPClock:])
	h.ACPCount = le.Uint32(s[offACPCount:])
	h.ARPCount = le.Uint32(s[offARPCount:])
	h.ACPAtARP = le.Uint32(s[offACPAtARP:])
	h.RefSec = le.Uint32(s[offRefSec:])
	h.RefNsec = le.Uint32(s[offRefNsec:])
	h.Elevation = le.Uint16(s[offElevation:])
	h.Polarization = le.Uint16(s[offPolarization:])
	return
}

// SetHeader writes every metadata field except the sentinel, which is
// left for the writer to stamp last.
func (s Slot) SetHeader(h *Header) {
	le := binary.LittleEndian
	le.PutUint32(s[offTrigCount:], h.TrigCount)
	le.PutUint64(s[offTrigClock:], h.TrigClock)
	le.PutUint64(s[offACPClock:], h.ACPClock)
	le.PutUint64(s[offARPClock:], h.ARPClock)
	le.PutUint32(s[offACPCount:], h.ACPCount)
	le.PutUint32(s[offARPCount:], h.ARPCount)
	le.PutUint32(s[offACPAtARP:], h.ACPAtARP)
	le.PutUint32(s[offRefSec:], h.RefSec)
	le.PutUint32(s[offRefNsec:], h.RefNsec)
	le.PutUint16(s[offElevation:], h.Elevation)
	le.PutUint16(s[offPolarization:], h.Polarization)
}

// NumSamples is the number of samples the slot holds.
func (s Slot) NumSamples() int {
	return (len(s) - HeaderSize) / SampleSize
}

// Sample returns the i'th sample.
func (s Slot) Sample(i int) Sample {
	return Sample(binary.LittleEndian.Uint16(s[HeaderSize+i*SampleSize:]))
}

// SetSample sets the i'th sample.
func (s Slot) SetSample(i int, v Sample) {
	binary.LittleEndian.PutUint16(s[HeaderSize+i*SampleSize:], uint16(v))
}

// Samples appends the slot's samples to dst and returns the result.
func (s Slot) Samples(dst []Sample) []Sample {
	n := s.NumSamples()
	for i := 0; i < n; i++ {
		dst = append(dst, s.Sample(i))
	}
	return dst
}

// SampleBytes returns the raw little-endian sample bytes of the slot.
func (s Slot) SampleBytes() []byte {
	return s[HeaderSize:]
}

// AppendRecord appends the wire encoding of one pulse (header, with its
// Magic field as given, followed by samples) to dst.
func AppendRecord(dst []byte, h *Header, samples []Sample) []byte {
	n := len(dst)
	size := SlotSize(len(samples))
	dst = append(dst, make([]byte, size)...)
	s := Slot(dst[n : n+size])
	s.SetHeader(h)
	s.SetMagic(h.Magic)
	for i, v := range samples {
		s.SetSample(i, v)
	}
	return dst
}

// ParseRecords splits a stream of records with n samples each into
// slots.  The slots alias b.  A trailing partial record is an error.
func ParseRecords(b []byte, n int) ([]Slot, error) {
	size := SlotSize(n)
	if len(b)%size != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of %d-byte records", len(b), size)
	}
	slots := make([]Slot, 0, len(b)/size)
	for off := 0; off < len(b); off += size {
		slots = append(slots, Slot(b[off:off+size]))
	}
	return slots, nil
}
