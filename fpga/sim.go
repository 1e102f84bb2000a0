package fpga

import (
	"math"
	"sync/atomic"
)

// SimConfig describes the radar seen by a simulated digitizer.
type SimConfig struct {
	PRF             float64 // trigger pulses per second; default 1800
	RPM             float64 // antenna rotations per minute; default 28
	ACPsPerRotation uint32  // default 450
	Pulses          uint32  // stop triggering after this many pulses; 0 means never stop
}

// Sim is a Port that synthesizes pulses instead of reading hardware.
// A trigger fires as soon as the sim is armed and polled, with the
// ADC clock advanced by one pulse repetition interval, so a run goes
// as fast as the acquisition loop can drive it.
//
// Sample i of pulse number trig (1-based, as TrigCount) has the value
// SimSample(trig, i).
type Sim struct {
	cfg        SimConfig
	trigClocks uint64  // ADC clocks between triggers
	rotClocks  float64 // ADC clocks per antenna rotation
	acpClocks  float64 // ADC clocks per ACP

	numSamp uint32
	decim   uint32
	opts    DigdarOption
	armed   bool
	source  TrigType

	clock    uint64
	counters Counters
	wp       uint32 // write pointer of the last pulse
	nextWp   uint32
	buf      *[SAMPLES_PER_BUFF]uint32

	triggers atomic.Uint32
}

var _ Port = (*Sim)(nil)

// NewSim returns a simulated digitizer.
func NewSim(cfg SimConfig) *Sim {
	if cfg.PRF <= 0 {
		cfg.PRF = 1800
	}
	if cfg.RPM <= 0 {
		cfg.RPM = 28
	}
	if cfg.ACPsPerRotation == 0 {
		cfg.ACPsPerRotation = 450
	}
	rot := FAST_ADC_CLOCK * 60 / cfg.RPM
	return &Sim{
		cfg:        cfg,
		trigClocks: uint64(math.Round(FAST_ADC_CLOCK / cfg.PRF)),
		rotClocks:  rot,
		acpClocks:  rot / float64(cfg.ACPsPerRotation),
		decim:      1,
		buf:        new([SAMPLES_PER_BUFF]uint32),
	}
}

// SimSample is the value of sample i of the pulse with trigger count
// trig.
func SimSample(trig uint32, i int) uint16 {
	return uint16((trig*31 + uint32(i)) % (1 << BPS_VID))
}

// Triggers returns the number of pulses generated so far.  It may be
// called from any goroutine.
func (s *Sim) Triggers() uint32 { return s.triggers.Load() }

// TriggerInterval returns the ADC clocks between simulated triggers.
func (s *Sim) TriggerInterval() uint64 { return s.trigClocks }

// SetNumSamp sets the samples generated per pulse.
func (s *Sim) SetNumSamp(n uint32) error {
	if err := checkNumSamp(n); err != nil {
		return err
	}
	s.numSamp = n
	return nil
}

// SetDecim checks and records the decimation rate; simulated samples
// do not depend on it.
func (s *Sim) SetDecim(decim uint32) error {
	if err := checkDecim(decim); err != nil {
		return err
	}
	s.decim = decim
	return nil
}

// SetOptions records the digitizing options.
func (s *Sim) SetOptions(o DigdarOption) { s.opts = o }

// Arm lets the next HasTriggered call fire a pulse.
func (s *Sim) Arm() { s.armed = true }

// SelectTrig sets the trigger source.  Firing a pulse resets it to
// TRG_NONE.
func (s *Sim) SelectTrig(t TrigType) { s.source = t }

// HasTriggered reports whether a capture has completed.  With the
// source at TRG_NONE it is true, as on the FPGA, since the source is
// cleared by the latest capture.  Otherwise it fires one pulse if the
// sim is armed and below its pulse limit, and reports false if not.
func (s *Sim) HasTriggered() bool {
	if s.source == TRG_NONE {
		return true
	}
	if !s.armed {
		return false
	}
	if s.cfg.Pulses > 0 && s.triggers.Load() >= s.cfg.Pulses {
		return false
	}
	s.fire()
	return true
}

// fire generates one pulse and leaves the sim disarmed, as the FPGA
// does after a capture.
func (s *Sim) fire() {
	s.clock += s.trigClocks
	trig := s.triggers.Add(1)

	acps := uint64(float64(s.clock) / s.acpClocks)
	arps := uint64(float64(s.clock) / s.rotClocks)
	s.counters = Counters{
		TrigCount: trig,
		TrigClock: s.clock,
		ACPCount:  uint32(acps),
		ACPClock:  uint64(float64(acps) * s.acpClocks),
		ARPCount:  uint32(arps),
		ARPClock:  uint64(float64(arps) * s.rotClocks),
		ACPAtARP:  uint32(arps) * s.cfg.ACPsPerRotation,
	}

	s.wp = s.nextWp
	j := s.wp
	for i := uint32(0); i < s.numSamp; i++ {
		s.buf[j] = uint32(SimSample(trig, int(i)))
		j = (j + 1) % SAMPLES_PER_BUFF
	}
	s.nextWp = j
	s.armed = false
	s.source = TRG_NONE
}

// ReadCounters returns the metadata of the latest pulse.
func (s *Sim) ReadCounters() Counters { return s.counters }

// WritePointer returns the buffer index of the latest pulse's first
// sample.
func (s *Sim) WritePointer() uint32 { return s.wp }

// ReadSamples copies len(dst) samples from the buffer starting at
// start, wrapping at the end.
func (s *Sim) ReadSamples(dst []uint16, start uint32) {
	copyWrapped(dst, s.buf, start)
}

// Clocks returns the simulated ADC clock.
func (s *Sim) Clocks() uint64 { return s.clock }

// Close does nothing.
func (s *Sim) Close() error { return nil }
