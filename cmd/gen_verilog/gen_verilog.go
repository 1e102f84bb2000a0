package main

// Generate verilog snippets for the digdar FPGA build.
// The snippets create memory maps, register definitions, getters, setters, and pulsers
// for the registers defined in fpga.Regs, using the offsets and modes of fpga.RegisterMap.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/jbrzusto/digdar/fpga"
)

// vreg renders one register as verilog.
type vreg struct{ fpga.Register }

// words returns the register's 32-bit words: suffix for the offset
// name and the bit range each covers.
func (r vreg) words() []struct{ suffix, bits string } {
	if r.Size == 64 {
		return []struct{ suffix, bits string }{{"_LO", "32-1: 0"}, {"_HI", "64-1:32"}}
	}
	return []struct{ suffix, bits string }{{"", "32-1: 0"}}
}

// MMap returns the memory map offset definitions.
func (r vreg) MMap() string {
	var sb strings.Builder
	for i, w := range r.words() {
		desc := r.Desc
		if i > 0 {
			desc = "high 32-bits"
		} else if r.Size == 64 {
			desc = "low 32-bits: " + desc
		}
		fmt.Fprintf(&sb, "`define OFFSET_%-30s 20'h%06x // %s\n", r.Name+w.suffix, r.Offset+4*i, desc)
	}
	return sb.String()
}

// Def returns the register definition.
func (r vreg) Def() string {
	kind := "reg "
	if r.Wire {
		kind = "wire"
	}
	return fmt.Sprintf("   %s [%d-1: 0] %-30s; // %s\n", kind, r.Size, r.Reg, r.Desc)
}

// Getter returns the read clause, using 'ack' as the acknowledge
// signal and 'rdata' as the data bus.  Pulse registers have none.
func (r vreg) Getter() string {
	if r.Mode == "p" {
		return ""
	}
	var sb strings.Builder
	for _, w := range r.words() {
		fmt.Fprintf(&sb, "        `OFFSET_%-30s  : begin ack <= 1'b1;  rdata <= %-30s[%s]; end\n", r.Name+w.suffix, r.Reg, w.bits)
	}
	return sb.String()
}

// Setter returns the write clause, using 'wdata' as the data bus.
// Only "rw" registers have one.
func (r vreg) Setter() string {
	if r.Mode != "rw" {
		return ""
	}
	var sb strings.Builder
	for _, w := range r.words() {
		lhs := fmt.Sprintf("%-30s", r.Reg)
		if r.Size == 64 {
			lhs += "[" + w.bits + "]"
		}
		fmt.Fprintf(&sb, "        `OFFSET_%-30s  : %s <= wdata[32-1: 0];\n", r.Name+w.suffix, lhs)
	}
	return sb.String()
}

// Pulser returns the clause that holds a written value for a single
// clock before the register returns to zero, using 'addr' as the
// address bus.  Only "p" registers have one.
func (r vreg) Pulser() string {
	if r.Mode != "p" {
		return ""
	}
	var sb strings.Builder
	for _, w := range r.words() {
		lhs := r.Reg
		if r.Size == 64 {
			lhs += "[" + w.bits + "]"
		}
		fmt.Fprintf(&sb, "        %s <= {32{addr[19:0] == `OFFSET_%-30s}} & wdata[32-1: 0];\n", lhs, r.Name+w.suffix)
	}
	return sb.String()
}

// snippets names each generated file and the method producing its
// lines.
var snippets = []struct {
	file, what string
	line       func(vreg) string
}{
	{"generated_mmap.v", "memory map definitions", vreg.MMap},
	{"generated_regdefs.v", "register definitions", vreg.Def},
	{"generated_getters.v", "getter logic", vreg.Getter},
	{"generated_setters.v", "setter logic", vreg.Setter},
	{"generated_pulsers.v", "pulser logic", vreg.Pulser},
}

// generate writes every snippet file into dir.
func generate(dir string, regs []fpga.Register) (err error) {
	for _, s := range snippets {
		f, cerr := os.Create(filepath.Join(dir, s.file))
		if cerr != nil {
			return cerr
		}
		fmt.Fprintf(f, "// %s - generated by gen_verilog.go\n\n", s.what)
		for _, r := range regs {
			fmt.Fprint(f, s.line(vreg{r}))
		}
		if cerr := f.Close(); cerr != nil {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}

func main() {
	var dir string
	cmd := &cobra.Command{
		Use:   "gen_verilog [--dir DIR]",
		Short: "Generate verilog register snippets for the digdar FPGA build",
		RunE: func(cmd *cobra.Command, args []string) error {
			return generate(dir, fpga.RegisterMap())
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "directory for the generated_*.v files")
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
