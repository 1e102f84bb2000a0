// Package fpga drives the digdar build of the redpitaya FPGA.
//
// The registers and sample buffers are physical memory, mapped from
// /dev/mem and overlaid with the Regs struct.  The FPGA watches four
// radar signals:
//
//   - video, the received echo: 14-bit samples at 125 MHz, about 1.2 m
//     of range per sample.  This is what gets captured.
//   - trigger: 14-bit samples at 125 MHz.  A detected trigger starts a
//     capture of NumSamp video samples and latches the counters into
//     the "saved_" registers.
//   - ACP, the azimuth count pulse: 12-bit samples at 100 kHz.  Counted;
//     a Furuno FR-series antenna gives 450 per rotation.
//   - ARP, the azimuth return pulse, once per rotation at a fixed
//     heading.
//
// Acquisition uses the Port interface, which FPGA implements for the
// device and Sim implements without hardware.
package fpga

const (
	FAST_ADC_CLOCK         = 125e6                // Hz; video and trigger channels
	FAST_ADC_SAMPLE_PERIOD = 1.0 / FAST_ADC_CLOCK // seconds
	SAMPLES_PER_BUFF       = 16 * 1024            // samples in each channel's BRAM buffer
	BUFF_SIZE_BYTES        = 4 * SAMPLES_PER_BUFF // buffers hold one sample per uint32
	BASE_ADDR              = 0x40100000           // physical address of Regs
	BASE_SIZE              = 0x50000              // Regs plus the four sample buffers
	CONF_ARM_BIT           = 1                    // Command: arm
	CONF_RST_BIT           = 2                    // Command: reset
	TRIG_SRC_MASK          = 0x0000000f           // TrigSource bits cleared on capture
	CHA_OFFSET             = 0x10000              // video buffer
	CHB_OFFSET             = 0x20000              // trigger buffer
	XCHA_OFFSET            = 0x30000              // ACP buffer
	XCHB_OFFSET            = 0x40000              // ARP buffer
	BPS_VID                = 14                   // bits per video sample
	MAX_DECIM              = 65536
)

// TrigType selects what starts a capture once the FPGA is armed.
type TrigType uint32

const (
	TRG_NONE      TrigType = iota // never; also what TrigSource reads after a capture
	TRG_IMMEDIATE                 // as soon as armed
	TRG_TRIG                      // the radar trigger
	TRG_ACP                       // an azimuth count pulse
	TRG_ARP                       // an azimuth return pulse
)

// DigdarOption holds the bits of the Options register.
type DigdarOption uint32

const (
	DDOPT_AVERAGING    DigdarOption = 1 << iota // average samples over each decimation period
	DDOPT_USE_SUM                               // sum them instead; decimation rates up to 4 only
	DDOPT_NEGATE_VIDEO                          // invert video
	DDOPT_COUNT_MODE                            // deliver the ADC clock count in place of video, for testing
)

// Control registers are written by software to configure the
// digitizer.  Thresholds are signed ADC values stored in uint32
// registers.
type Control struct {
	Command          uint32       `reg:"command" mode:"p" desc:"bit 0 arms the trigger, bit 1 resets the writer"`
	TrigSource       uint32       `reg:"trig_source" mode:"rw" desc:"TrigType to wait for; the FPGA clears it after capturing"`
	NumSamp          uint32       `reg:"num_samp" mode:"rw" desc:"video samples to capture per trigger; even, 2..16384"`
	DecRate          uint32       `reg:"dec_rate" mode:"rw" desc:"ADC samples consumed per video sample, 1..65536"`
	Options          DigdarOption `reg:"options" mode:"rw" desc:"DigdarOption bits"`
	TrigThreshExcite uint32       `reg:"trig_thresh_excite" mode:"rw" desc:"trigger ADC level that detects a pulse, -8192..8191"`
	TrigThreshRelax  uint32       `reg:"trig_thresh_relax" mode:"rw" desc:"trigger ADC level that rearms detection, -8192..8191"`
	TrigDelay        uint32       `reg:"trig_delay" mode:"rw" desc:"ADC clocks from trigger detection to the first video sample"`
	TrigLatency      uint32       `reg:"trig_latency" mode:"rw" desc:"minimum ADC clocks from relax to the next excite, 0..65535"`
	ACPThreshExcite  uint32       `reg:"acp_thresh_excite" mode:"rw" desc:"ACP level that detects a pulse, -2048..2047"`
	ACPThreshRelax   uint32       `reg:"acp_thresh_relax" mode:"rw" desc:"ACP level that rearms detection, -2048..2047"`
	ACPLatency       uint32       `reg:"acp_latency" mode:"rw" desc:"minimum ADC clocks from ACP relax to the next excite"`
	ARPThreshExcite  uint32       `reg:"arp_thresh_excite" mode:"rw" desc:"ARP level that detects a pulse, -2048..2047"`
	ARPThreshRelax   uint32       `reg:"arp_thresh_relax" mode:"rw" desc:"ARP level that rearms detection, -2048..2047"`
	ARPLatency       uint32       `reg:"arp_thresh_latency" mode:"rw" desc:"minimum ADC clocks from ARP relax to the next excite"`
}

// Metadata registers are maintained by the FPGA from the radar
// signals.  The block must stay packed: it starts with a 64-bit
// register and 32-bit registers come in pairs between 64-bit ones.
type Metadata struct {
	TrigClock          uint64 `reg:"trig_clock" mode:"r" desc:"ADC clock at the latest trigger"`
	TrigPrevClock      uint64 `reg:"trig_prev_clock" mode:"r" desc:"ADC clock at the trigger before that"`
	ACPClock           uint64 `reg:"acp_clock" mode:"r" desc:"ADC clock at the latest ACP"`
	ACPPrevClock       uint64 `reg:"acp_prev_clock" mode:"r" desc:"ADC clock at the ACP before that"`
	ARPClock           uint64 `reg:"arp_clock" mode:"r" desc:"ADC clock at the latest ARP"`
	ARPPrevClock       uint64 `reg:"arp_prev_clock" mode:"r" desc:"ADC clock at the ARP before that"`
	TrigCount          uint32 `reg:"trig_count" mode:"r" is_wire:"y" desc:"triggers since reset"`
	ACPCount           uint32 `reg:"acp_count" mode:"r" is_wire:"y" desc:"ACPs since reset"`
	ARPCount           uint32 `reg:"arp_count" mode:"r" is_wire:"y" desc:"ARPs (antenna rotations) since reset"`
	ACPPerARP          uint32 `reg:"acp_per_arp" mode:"r" desc:"ACPs between the two latest ARPs"`
	ADCCounter         uint32 `reg:"adc_counter" mode:"r" desc:"14-bit counter delivered in count mode"`
	ACPAtARP           uint32 `reg:"acp_at_arp" mode:"r" desc:"ACP count at the latest ARP"`
	ClockSinceACPAtARP uint32 `reg:"clock_since_acp_at_arp" mode:"r" desc:"ADC clocks from the last ACP to the latest ARP"`
	TrigAtARP          uint32 `reg:"trig_at_arp" mode:"r" desc:"trigger count at the latest ARP"`
}

// Misc registers are live and not latched at triggers.  Clocks must
// stay first and the 32-bit registers come in pairs.
type Misc struct {
	Clocks uint64 `reg:"clocks" mode:"r" desc:"ADC clocks since reset"`
	ACPRaw uint32 `reg:"acp_raw" mode:"r" desc:"latest slow ADC value on the ACP channel"`
	ARPRaw uint32 `reg:"arp_raw" mode:"r" desc:"latest slow ADC value on the ARP channel"`
}

// WritePointers locate captured samples in the video buffer.  They sit
// after the saved metadata so that every earlier register keeps its
// address; cmd/gen_verilog emits them into the FPGA memory map.
type WritePointers struct {
	WrPtrTrigger uint32 `reg:"wr_ptr_trigger" mode:"r" desc:"video buffer index of the first sample of the latest capture"`
	WrPtrCurrent uint32 `reg:"wr_ptr_current" mode:"r" desc:"video buffer index the next sample goes to"`
}

// Regs is the FPGA register block at BASE_ADDR.  The blank field keeps
// Metadata on a 64-bit boundary where uint64 is only 32-bit aligned.
type Regs struct {
	Control
	_ uint32
	Metadata
	Misc
	AtTrig Metadata `reg_prefix:"saved_"` // Metadata latched at the latest captured trigger
	WritePointers
}
