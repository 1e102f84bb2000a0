package main

// Show one or more digdar registers at repeated intervals.
//
// Usage:
//
//    showreg [--reset] [-i INTERVAL] [-n ROUNDS] REGNAME1[:M1] REGNAME2[:M2] ...
//
// where
//  - INTERVAL is how long to wait between burst reads of the registers
//  - ROUNDS is the number of bursts; 0 means until interrupted
//  - REGNAMEi is the Go or FPGA name of a register (e.g. NumSamp or num_samp)
//  - Mi is the number of reads to do in a burst from REGNAMEi (default 1)
//
// showreg --map prints the register memory map and needs no FPGA.

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbrzusto/digdar/fpga"
)

type watch struct {
	reg   fpga.Register
	burst int
}

func parseWatch(arg string) (watch, error) {
	name, n, hasN := strings.Cut(arg, ":")
	r, ok := fpga.LookupRegister(name)
	if !ok {
		return watch{}, fmt.Errorf("unknown register %q", name)
	}
	w := watch{reg: r, burst: 1}
	if hasN {
		b, err := strconv.Atoi(n)
		if err != nil || b < 1 {
			return watch{}, fmt.Errorf("bad burst count in %q", arg)
		}
		w.burst = b
	}
	return w, nil
}

// peeker reads registers; *fpga.FPGA is one.
type peeker interface {
	Peek(r fpga.Register) uint64
}

// show prints one burst of reads of each watched register on a line.
func show(out io.Writer, p peeker, ws []watch) {
	var sb strings.Builder
	for _, w := range ws {
		fmt.Fprintf(&sb, "%s:", w.reg.Name)
		for i := 0; i < w.burst; i++ {
			v := p.Peek(w.reg)
			if w.reg.Signed || strings.Contains(w.reg.Reg, "thresh") {
				fmt.Fprintf(&sb, " %d", int32(v))
			} else {
				fmt.Fprintf(&sb, " %d", v)
			}
		}
		sb.WriteString("  ")
	}
	fmt.Fprintln(out, strings.TrimRight(sb.String(), " "))
}

func newRootCmd() *cobra.Command {
	var (
		interval time.Duration
		rounds   int
		showMap  bool
		reset    bool
	)
	cmd := &cobra.Command{
		Use:   "showreg [flags] REGNAME[:BURST]...",
		Short: "Show digdar FPGA registers",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if showMap {
				for _, r := range fpga.RegisterMap() {
					fmt.Fprint(out, r.MMap())
				}
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("no registers named")
			}
			ws := make([]watch, 0, len(args))
			for _, a := range args {
				w, err := parseWatch(a)
				if err != nil {
					return err
				}
				ws = append(ws, w)
			}

			f, err := fpga.New()
			if err != nil {
				return fmt.Errorf("unable to access FPGA (this program is for the redpitaya): %w", err)
			}
			defer f.Close()
			if reset {
				f.Reset()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			for i := 0; rounds == 0 || i < rounds; i++ {
				show(out, f, ws)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(interval):
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", 100*time.Millisecond, "time between bursts")
	cmd.Flags().IntVarP(&rounds, "rounds", "n", 0, "number of bursts; 0 means until interrupted")
	cmd.Flags().BoolVar(&showMap, "map", false, "print the register map and exit")
	cmd.Flags().BoolVar(&reset, "reset", false, "reset the FPGA write state machine first")
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
