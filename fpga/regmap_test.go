package fpga

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMap(t *testing.T) {
	regs := RegisterMap()
	require.Len(t, regs, 15+14+5+14)
	for i := 1; i < len(regs); i++ {
		assert.Less(t, regs[i-1].Offset, regs[i].Offset)
	}
	assert.Equal(t, "Command", regs[0].Name)
	assert.Equal(t, "p", regs[0].Mode)

	r, ok := LookupRegister("num_samp")
	require.True(t, ok)
	assert.Equal(t, "NumSamp", r.Name)
	assert.Equal(t, 8, r.Offset)
	assert.Equal(t, 32, r.Size)

	r, ok = LookupRegister("saved_trigclock")
	require.True(t, ok)
	assert.Equal(t, "saved_trig_clock", r.Reg)
	assert.Equal(t, 64, r.Size)

	live, _ := LookupRegister("TrigCount")
	saved, _ := LookupRegister("saved_TrigCount")
	assert.True(t, live.Wire)
	assert.False(t, saved.Wire)

	_, ok = LookupRegister("nonesuch")
	assert.False(t, ok)
}

// Addresses of registers the FPGA bitstream already has must not move.
func TestRegisterAddresses(t *testing.T) {
	for name, off := range map[string]int{
		"command":            0x00,
		"arp_thresh_latency": 0x38,
		"trig_clock":         0x40,
		"trig_at_arp":        0x8c,
		"clocks":             0x90,
		"arp_raw":            0x9c,
		"saved_trig_clock":   0xa0,
		"saved_trig_count":   0xd0,
		"saved_trig_at_arp":  0xec,
		"wr_ptr_trigger":     0xf0,
		"wr_ptr_current":     0xf4,
	} {
		r, ok := LookupRegister(name)
		require.True(t, ok, name)
		assert.Equal(t, off, r.Offset, "%s at 0x%x", name, r.Offset)
	}
	assert.Equal(t, uintptr(0xa0), unsafe.Offsetof(Regs{}.AtTrig))
	assert.Equal(t, uintptr(0xf8), unsafe.Sizeof(Regs{}))
}

func TestPeekPoke(t *testing.T) {
	f := memFPGA()
	dec, _ := LookupRegister("dec_rate")
	require.NoError(t, f.Poke(dec, 64))
	assert.Equal(t, uint32(64), f.DecRate)
	assert.Equal(t, uint64(64), f.Peek(dec))

	f.AtTrig.TrigClock = 1<<40 + 7
	clk, _ := LookupRegister("saved_trig_clock")
	assert.Equal(t, uint64(1<<40+7), f.Peek(clk))
	assert.Error(t, f.Poke(clk, 0))
}

func TestMMap(t *testing.T) {
	r, _ := LookupRegister("clocks")
	assert.Contains(t, r.MMap(), "Clocks_LO")
	assert.Contains(t, r.MMap(), "Clocks_HI")
}
