package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbrzusto/digdar/fpga"
)

type fakeRegs map[string]uint64

func (f fakeRegs) Peek(r fpga.Register) uint64 { return f[r.Name] }

func TestParseWatch(t *testing.T) {
	w, err := parseWatch("trig_count:3")
	require.NoError(t, err)
	assert.Equal(t, "TrigCount", w.reg.Name)
	assert.Equal(t, 3, w.burst)

	w, err = parseWatch("NumSamp")
	require.NoError(t, err)
	assert.Equal(t, 1, w.burst)

	for _, bad := range []string{"nonesuch", "NumSamp:0", "NumSamp:x"} {
		_, err := parseWatch(bad)
		assert.Error(t, err, bad)
	}
}

func TestShow(t *testing.T) {
	a, _ := parseWatch("NumSamp")
	b, _ := parseWatch("trig_thresh_excite:2")
	regs := fakeRegs{"NumSamp": 3000, "TrigThreshExcite": uint64(uint32(0xffffe66a))}
	var out bytes.Buffer
	show(&out, regs, []watch{a, b})
	assert.Equal(t, "NumSamp: 3000  TrigThreshExcite: -6550 -6550\n", out.String())
}

func TestMapFlag(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--map"})
	require.NoError(t, cmd.Execute())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "0x000000 Command"))
	assert.Contains(t, out.String(), "saved_TrigClock_HI")
}
