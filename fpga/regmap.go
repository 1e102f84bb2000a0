package fpga

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unsafe"
)

// Register describes one 32 or 64-bit register in Regs, as read from
// its struct tags.
type Register struct {
	Name   string // Go field name, with the copy's prefix for nested metadata
	Reg    string // name used in the FPGA logic
	Offset int    // byte offset from BASE_ADDR of the low order word
	Size   int    // bits
	Signed bool
	Mode   string // "r", "rw", or "p" (pulse: one-shot write)
	Wire   bool   // value comes from a submodule, not a register
	Desc   string
}

// MMap returns the register's memory map line(s), one per 32-bit word.
func (r Register) MMap() string {
	if r.Size == 64 {
		return fmt.Sprintf("0x%06x %-30s %-4s %s\n", r.Offset, r.Name+"_LO", r.Mode, r.Desc) +
			fmt.Sprintf("0x%06x %-30s %-4s (high 32 bits)\n", r.Offset+4, r.Name+"_HI", r.Mode)
	}
	return fmt.Sprintf("0x%06x %-30s %-4s %s\n", r.Offset, r.Name, r.Mode, r.Desc)
}

var registers = extractRegs(reflect.TypeOf(Regs{}))

// RegisterMap returns every register in Regs, in address order.
func RegisterMap() []Register {
	return append([]Register(nil), registers...)
}

// LookupRegister finds a register by its Go or FPGA name, ignoring
// case.
func LookupRegister(name string) (Register, bool) {
	for _, r := range registers {
		if strings.EqualFold(r.Name, name) || strings.EqualFold(r.Reg, name) {
			return r, true
		}
	}
	return Register{}, false
}

// extractRegs walks a possibly nested struct of registers.  Fields
// carry these tags:
//
//	reg: name of the register in the FPGA logic
//	mode: "r", "rw" or "p"
//	desc: human-readable description
//	is_wire: "y" if the value is a wire from a submodule; ignored in
//	    prefixed copies, which hold values saved from the wires
//	reg_prefix: on a nested struct, prepended to the names of its
//	    registers
func extractRegs(t reflect.Type) []Register {
	var regs []Register
	var ext func(t reflect.Type, prefix string, offset int)
	ext = func(t reflect.Type, prefix string, offset int) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Name == "_" {
				continue
			}
			off := offset + int(f.Offset)
			switch f.Type.Kind() {
			case reflect.Struct:
				ext(f.Type, prefix+f.Tag.Get("reg_prefix"), off)
			case reflect.Uint32, reflect.Int32, reflect.Uint64, reflect.Int64:
				regs = append(regs, Register{
					Name:   prefix + f.Name,
					Reg:    prefix + f.Tag.Get("reg"),
					Offset: off,
					Size:   8 * int(f.Type.Size()),
					Signed: f.Type.Kind() == reflect.Int32 || f.Type.Kind() == reflect.Int64,
					Mode:   f.Tag.Get("mode"),
					Wire:   f.Tag.Get("is_wire") == "y" && prefix == "",
					Desc:   f.Tag.Get("desc"),
				})
			}
		}
	}
	ext(t, "", 0)
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].Offset < regs[j].Offset })
	return regs
}

// Peek reads a register.  Pulse registers read as whatever the FPGA
// returns, usually 0.
func (fpga *FPGA) Peek(r Register) uint64 {
	p := unsafe.Add(unsafe.Pointer(fpga.Regs), r.Offset)
	if r.Size == 64 {
		return load64((*uint64)(p))
	}
	return uint64(load((*uint32)(p)))
}

// Poke writes a 32-bit register, or the low word then the high word of
// a 64-bit one.  Read-only registers are refused.
func (fpga *FPGA) Poke(r Register, v uint64) error {
	if r.Mode == "r" {
		return fmt.Errorf("fpga: register %s is read-only", r.Name)
	}
	p := unsafe.Add(unsafe.Pointer(fpga.Regs), r.Offset)
	store((*uint32)(p), uint32(v))
	if r.Size == 64 {
		store((*uint32)(unsafe.Add(p, 4)), uint32(v>>32))
	}
	return nil
}
