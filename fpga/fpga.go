package fpga

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// FPGA is the digitizer mapped from /dev/mem.
type FPGA struct {
	*Regs

	// sample buffers; only VidBuf is read during acquisition, the
	// others help when tuning thresholds
	VidBuf  *[SAMPLES_PER_BUFF]uint32
	TrigBuf *[SAMPLES_PER_BUFF]uint32
	ARPBuf  *[SAMPLES_PER_BUFF]uint32
	ACPBuf  *[SAMPLES_PER_BUFF]uint32

	// mappings backing the pointers above
	regSlice, vidSlice, trigSlice, acpSlice, arpSlice []byte
	memfile                                           *os.File
}

var _ Port = (*FPGA)(nil)

// New maps the FPGA registers and sample buffers from /dev/mem.  It
// needs root.
func New() (*FPGA, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("fpga: %w", err)
	}
	fpga := &FPGA{memfile: f}
	fd := int(f.Fd())

	mmap := func(off int64, size int, prot int) ([]byte, error) {
		b, err := unix.Mmap(fd, off, size, prot, unix.MAP_SHARED)
		if err != nil {
			return nil, fmt.Errorf("fpga: mmap 0x%x: %w", off, err)
		}
		return b, nil
	}
	if fpga.regSlice, err = mmap(BASE_ADDR, BASE_SIZE, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return nil, multierr.Append(err, fpga.Close())
	}
	fpga.Regs = (*Regs)(unsafe.Pointer(&fpga.regSlice[0]))
	bufs := []struct {
		off   int64
		slice *[]byte
		buf   **[SAMPLES_PER_BUFF]uint32
	}{
		{BASE_ADDR + CHA_OFFSET, &fpga.vidSlice, &fpga.VidBuf},
		{BASE_ADDR + CHB_OFFSET, &fpga.trigSlice, &fpga.TrigBuf},
		{BASE_ADDR + XCHA_OFFSET, &fpga.acpSlice, &fpga.ACPBuf},
		{BASE_ADDR + XCHB_OFFSET, &fpga.arpSlice, &fpga.ARPBuf},
	}
	for _, b := range bufs {
		if *b.slice, err = mmap(b.off, BUFF_SIZE_BYTES, unix.PROT_READ); err != nil {
			return nil, multierr.Append(err, fpga.Close())
		}
		*b.buf = (*[SAMPLES_PER_BUFF]uint32)(unsafe.Pointer(&(*b.slice)[0]))
	}
	return fpga, nil
}

// Close unmaps the registers and buffers.
func (fpga *FPGA) Close() error {
	if fpga.memfile == nil {
		return nil
	}
	var err error
	for _, s := range [][]byte{fpga.arpSlice, fpga.acpSlice, fpga.trigSlice, fpga.vidSlice, fpga.regSlice} {
		if s != nil {
			err = multierr.Append(err, unix.Munmap(s))
		}
	}
	fpga.arpSlice, fpga.acpSlice, fpga.trigSlice, fpga.vidSlice, fpga.regSlice = nil, nil, nil, nil, nil
	fpga.Regs, fpga.VidBuf, fpga.TrigBuf, fpga.ARPBuf, fpga.ACPBuf = nil, nil, nil, nil, nil
	err = multierr.Append(err, fpga.memfile.Close())
	fpga.memfile = nil
	return err
}

// Registers are device memory: every access goes through sync/atomic
// so the compiler neither caches nor reorders it.

func load(p *uint32) uint32     { return atomic.LoadUint32(p) }
func store(p *uint32, v uint32) { atomic.StoreUint32(p, v) }

// load64 reads a 64-bit counter as its low then high 32-bit halves.
func load64(p *uint64) uint64 {
	lo := atomic.LoadUint32((*uint32)(unsafe.Pointer(p)))
	hi := atomic.LoadUint32((*uint32)(unsafe.Add(unsafe.Pointer(p), 4)))
	return uint64(hi)<<32 | uint64(lo)
}

// Reset resets the FPGA's write state machine.
func (fpga *FPGA) Reset() {
	store(&fpga.Command, load(&fpga.Command)|CONF_RST_BIT)
}

// Arm makes the next trigger start a capture.
func (fpga *FPGA) Arm() {
	store(&fpga.Command, load(&fpga.Command)|CONF_ARM_BIT)
}

// SelectTrig chooses what starts a capture.
func (fpga *FPGA) SelectTrig(t TrigType) {
	store(&fpga.TrigSource, uint32(t))
}

// SetDecim sets the number of ADC samples per video sample, 1..65536.
func (fpga *FPGA) SetDecim(decim uint32) error {
	if err := checkDecim(decim); err != nil {
		return err
	}
	store(&fpga.DecRate, decim)
	return nil
}

// SetOptions sets the digdar option bits.
func (fpga *FPGA) SetOptions(o DigdarOption) {
	store((*uint32)(&fpga.Options), uint32(o))
}

// SetNumSamp sets the number of samples to acquire after a trigger.
// The FPGA writes an even number of samples, at least 2, so n is
// rounded up accordingly; callers simply ignore the extra samples.
func (fpga *FPGA) SetNumSamp(n uint32) error {
	if err := checkNumSamp(n); err != nil {
		return err
	}
	n = max(n+n&1, 2)
	store(&fpga.NumSamp, n)
	return nil
}

// HasTriggered reports whether a capture has completed since Arm.  It
// is also true before the first Arm, when there is nothing to read.
func (fpga *FPGA) HasTriggered() bool {
	return load(&fpga.TrigSource)&TRIG_SRC_MASK == 0
}

// ReadCounters returns the metadata the FPGA saved at the most recent
// captured trigger.
func (fpga *FPGA) ReadCounters() Counters {
	m := &fpga.AtTrig
	return Counters{
		TrigCount: load(&m.TrigCount),
		TrigClock: load64(&m.TrigClock),
		ACPCount:  load(&m.ACPCount),
		ACPClock:  load64(&m.ACPClock),
		ARPCount:  load(&m.ARPCount),
		ARPClock:  load64(&m.ARPClock),
		ACPAtARP:  load(&m.ACPAtARP),
	}
}

// WritePointer returns the index in VidBuf of the first sample of the
// most recent captured pulse.
func (fpga *FPGA) WritePointer() uint32 {
	return load(&fpga.WrPtrTrigger) % SAMPLES_PER_BUFF
}

// ReadSamples copies len(dst) video samples starting at index start,
// wrapping around the end of the buffer.
func (fpga *FPGA) ReadSamples(dst []uint16, start uint32) {
	copyWrapped(dst, fpga.VidBuf, start)
}

// Clocks returns the number of ADC clock ticks since reset.
func (fpga *FPGA) Clocks() uint64 {
	return load64(&fpga.Misc.Clocks)
}

// Apply writes pulse detection settings to the control registers.
func (fpga *FPGA) Apply(s *Settings) {
	store(&fpga.TrigThreshExcite, uint32(s.TrigThreshExcite))
	store(&fpga.TrigThreshRelax, uint32(s.TrigThreshRelax))
	store(&fpga.TrigDelay, s.TrigDelay)
	store(&fpga.TrigLatency, s.TrigLatency)
	store(&fpga.ACPThreshExcite, uint32(s.ACPThreshExcite))
	store(&fpga.ACPThreshRelax, uint32(s.ACPThreshRelax))
	store(&fpga.ACPLatency, s.ACPLatency)
	store(&fpga.ARPThreshExcite, uint32(s.ARPThreshExcite))
	store(&fpga.ARPThreshRelax, uint32(s.ARPThreshRelax))
	store(&fpga.ARPLatency, s.ARPLatency)
}
