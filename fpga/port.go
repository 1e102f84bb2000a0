package fpga

import "fmt"

// Port is the digitizer hardware as seen by the acquisition loop.
//
// The sequence for one pulse is: Arm and SelectTrig; poll HasTriggered
// until it reports true; ReadCounters and WritePointer; Arm and
// SelectTrig again so the next pulse can be captured while this one is
// copied out with ReadSamples.
//
// A Port is used by a single goroutine.
type Port interface {
	SetNumSamp(n uint32) error
	SetDecim(decim uint32) error
	SetOptions(o DigdarOption)
	Arm()
	SelectTrig(t TrigType)
	HasTriggered() bool
	ReadCounters() Counters
	WritePointer() uint32
	ReadSamples(dst []uint16, start uint32)
	Clocks() uint64
	Close() error
}

// Counters are the metadata latched by the FPGA at a captured trigger.
type Counters struct {
	TrigCount uint32
	TrigClock uint64
	ACPCount  uint32
	ACPClock  uint64
	ARPCount  uint32
	ARPClock  uint64
	ACPAtARP  uint32
}

// Settings are the pulse detection parameters written to the control
// registers at startup.  Thresholds are signed ADC values.
type Settings struct {
	TrigThreshExcite int32  `mapstructure:"trig_thresh_excite"`
	TrigThreshRelax  int32  `mapstructure:"trig_thresh_relax"`
	TrigDelay        uint32 `mapstructure:"trig_delay"`
	TrigLatency      uint32 `mapstructure:"trig_latency"`
	ACPThreshExcite  int32  `mapstructure:"acp_thresh_excite"`
	ACPThreshRelax   int32  `mapstructure:"acp_thresh_relax"`
	ACPLatency       uint32 `mapstructure:"acp_latency"`
	ARPThreshExcite  int32  `mapstructure:"arp_thresh_excite"`
	ARPThreshRelax   int32  `mapstructure:"arp_thresh_relax"`
	ARPLatency       uint32 `mapstructure:"arp_latency"`
	NegateVideo      bool   `mapstructure:"negate_video"`
}

// DefaultSettings work for at least one of the test radars (a Furuno
// FR-8252 with CHS Lab's front-end board).  There is no guarantee they
// make any sense for a particular radar.
func DefaultSettings() Settings {
	return Settings{
		TrigThreshExcite: -6550,
		TrigThreshRelax:  -8000,
		TrigDelay:        30,
		TrigLatency:      12500,
		ACPThreshExcite:  -1638,
		ACPThreshRelax:   1228,
		ACPLatency:       500000,
		ARPThreshExcite:  -1638,
		ARPThreshRelax:   1228,
		ARPLatency:       125000000,
		NegateVideo:      true,
	}
}

// DecimOptions returns the options for sampling at decimation rate
// decim.  Summing is only available at rates up to 4; otherwise
// samples are averaged.
func DecimOptions(decim uint32, sum bool) DigdarOption {
	if sum && decim <= 4 {
		return DDOPT_USE_SUM
	}
	return DDOPT_AVERAGING
}

// Options returns the option bits for sampling at decimation rate
// decim with these settings.
func (s *Settings) Options(decim uint32, sum bool) DigdarOption {
	o := DecimOptions(decim, sum)
	if s.NegateVideo {
		o |= DDOPT_NEGATE_VIDEO
	}
	return o
}

// checkNumSamp validates a per-pulse sample count.
func checkNumSamp(n uint32) error {
	if n > SAMPLES_PER_BUFF {
		return fmt.Errorf("fpga: %d samples per pulse exceeds buffer of %d", n, SAMPLES_PER_BUFF)
	}
	return nil
}

// checkDecim validates a decimation rate.
func checkDecim(decim uint32) error {
	if decim < 1 || decim > MAX_DECIM {
		return fmt.Errorf("fpga: decimation rate %d not in 1..%d", decim, MAX_DECIM)
	}
	return nil
}

// copyWrapped copies len(dst) samples out of the circular sample
// buffer buf, starting at index start and wrapping at the end.
func copyWrapped(dst []uint16, buf *[SAMPLES_PER_BUFF]uint32, start uint32) {
	j := start % SAMPLES_PER_BUFF
	for i := range dst {
		dst[i] = uint16(buf[j])
		j++
		if j == SAMPLES_PER_BUFF {
			j = 0
		}
	}
}
