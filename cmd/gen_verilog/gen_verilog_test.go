package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbrzusto/digdar/fpga"
)

func lookup(t *testing.T, name string) vreg {
	t.Helper()
	r, ok := fpga.LookupRegister(name)
	require.True(t, ok, name)
	return vreg{r}
}

func TestMMap(t *testing.T) {
	assert.Equal(t, "`define OFFSET_NumSamp"+strings.Repeat(" ", 23)+" 20'h000008 // "+lookup(t, "num_samp").Desc+"\n",
		lookup(t, "num_samp").MMap())

	m := lookup(t, "saved_trig_clock").MMap()
	assert.Contains(t, m, "OFFSET_saved_TrigClock_LO")
	assert.Contains(t, m, "20'h0000a0")
	assert.Contains(t, m, "OFFSET_saved_TrigClock_HI")
	assert.Contains(t, m, "20'h0000a4")

	assert.Contains(t, lookup(t, "wr_ptr_trigger").MMap(), "20'h0000f0")
}

func TestClausesFollowMode(t *testing.T) {
	cmd := lookup(t, "command")
	assert.Empty(t, cmd.Getter())
	assert.Empty(t, cmd.Setter())
	assert.Contains(t, cmd.Pulser(), "command <= {32{addr[19:0] == `OFFSET_Command")

	dec := lookup(t, "dec_rate")
	assert.Contains(t, dec.Getter(), "rdata <= dec_rate")
	assert.Contains(t, dec.Setter(), "<= wdata[32-1: 0];")
	assert.Empty(t, dec.Pulser())

	clk := lookup(t, "clocks")
	assert.Empty(t, clk.Setter())
	g := clk.Getter()
	assert.Contains(t, g, "[32-1: 0]; end")
	assert.Contains(t, g, "[64-1:32]; end")
	assert.Equal(t, 2, strings.Count(g, "\n"))
}

func TestWireDefinitions(t *testing.T) {
	assert.True(t, strings.HasPrefix(lookup(t, "trig_count").Def(), "   wire [32-1: 0] trig_count"))
	assert.True(t, strings.HasPrefix(lookup(t, "saved_trig_count").Def(), "   reg  [32-1: 0] saved_trig_count"))
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, generate(dir, fpga.RegisterMap()))
	for _, s := range snippets {
		b, err := os.ReadFile(filepath.Join(dir, s.file))
		require.NoError(t, err, s.file)
		assert.True(t, strings.HasPrefix(string(b), "// "+s.what), s.file)
	}
	b, err := os.ReadFile(filepath.Join(dir, "generated_mmap.v"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "OFFSET_WrPtrCurrent")
}
