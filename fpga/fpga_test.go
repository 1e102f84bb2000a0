package fpga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFPGA is an FPGA whose registers and buffers live in ordinary
// memory.
func memFPGA() *FPGA {
	return &FPGA{
		Regs:   new(Regs),
		VidBuf: new([SAMPLES_PER_BUFF]uint32),
	}
}

func TestSetNumSamp(t *testing.T) {
	f := memFPGA()
	require.NoError(t, f.SetNumSamp(3000))
	assert.Equal(t, uint32(3000), f.NumSamp)
	require.NoError(t, f.SetNumSamp(3001))
	assert.Equal(t, uint32(3002), f.NumSamp)
	require.NoError(t, f.SetNumSamp(0))
	assert.Equal(t, uint32(2), f.NumSamp)
	require.NoError(t, f.SetNumSamp(SAMPLES_PER_BUFF))
	assert.Error(t, f.SetNumSamp(SAMPLES_PER_BUFF+1))
}

func TestSetDecim(t *testing.T) {
	f := memFPGA()
	for _, d := range []uint32{1, 2, 3, 4, 8, 64, 1024, 8192, 65536} {
		require.NoError(t, f.SetDecim(d))
		assert.Equal(t, d, f.DecRate)
	}
	assert.Error(t, f.SetDecim(0))
	assert.Error(t, f.SetDecim(65537))
}

func TestArmAndTrigger(t *testing.T) {
	f := memFPGA()
	f.Arm()
	assert.Equal(t, uint32(CONF_ARM_BIT), f.Command)
	f.SelectTrig(TRG_TRIG)
	assert.False(t, f.HasTriggered())
	f.TrigSource = 0 // the FPGA clears the source once a pulse is captured
	assert.True(t, f.HasTriggered())
}

func TestReadCountersCombinesHalves(t *testing.T) {
	f := memFPGA()
	f.AtTrig.TrigClock = 0x0000_0012_3456_789a
	f.AtTrig.ACPClock = 1 << 40
	f.AtTrig.TrigCount = 7
	f.AtTrig.ACPCount = 8
	f.AtTrig.ARPCount = 9
	f.AtTrig.ACPAtARP = 10
	f.TrigCount = 99 // live register, not the saved one
	f.Misc.Clocks = 5 << 32

	c := f.ReadCounters()
	assert.Equal(t, Counters{
		TrigCount: 7,
		TrigClock: 0x0000_0012_3456_789a,
		ACPCount:  8,
		ACPClock:  1 << 40,
		ARPCount:  9,
		ACPAtARP:  10,
	}, c)
	assert.Equal(t, uint64(5<<32), f.Clocks())
}

func TestReadSamplesWraps(t *testing.T) {
	f := memFPGA()
	for i := range f.VidBuf {
		f.VidBuf[i] = uint32(i)
	}
	f.WrPtrTrigger = SAMPLES_PER_BUFF - 2
	dst := make([]uint16, 5)
	f.ReadSamples(dst, f.WritePointer())
	assert.Equal(t, []uint16{SAMPLES_PER_BUFF - 2, SAMPLES_PER_BUFF - 1, 0, 1, 2}, dst)
}

func TestApplySettings(t *testing.T) {
	f := memFPGA()
	s := DefaultSettings()
	f.Apply(&s)
	assert.Equal(t, int32(-6550), int32(f.TrigThreshExcite))
	assert.Equal(t, int32(-8000), int32(f.TrigThreshRelax))
	assert.Equal(t, uint32(1228), f.ACPThreshRelax)
	assert.Equal(t, uint32(125000000), f.ARPLatency)
}

func TestOptions(t *testing.T) {
	s := Settings{}
	assert.Equal(t, DDOPT_USE_SUM, s.Options(4, true))
	assert.Equal(t, DDOPT_AVERAGING, s.Options(8, true))
	assert.Equal(t, DDOPT_AVERAGING, s.Options(2, false))
	s.NegateVideo = true
	assert.Equal(t, DDOPT_USE_SUM|DDOPT_NEGATE_VIDEO, s.Options(1, true))
}
