// Package sector decides which pulses to keep based on antenna
// azimuth.
//
// Azimuth is expressed as a fraction of a full rotation, in [0, 1),
// measured from the heading at which the radar emits its ARP.  A
// removal window is a half-open range [Begin, End) of azimuths whose
// pulses are discarded; if Begin > End the window wraps through
// azimuth 0.
package sector

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jbrzusto/digdar/buffer"
	"github.com/jbrzusto/digdar/fpga"
)

// MaxRemovals is the most removal windows a Filter accepts.
const MaxRemovals = 32

// A Window is a sector of azimuths whose pulses are removed.
type Window struct {
	Begin float64
	End   float64
}

// ParseWindow parses "BEGIN:END", where both are fractions of a
// rotation in [0, 1].
func ParseWindow(s string) (Window, error) {
	b, e, ok := strings.Cut(s, ":")
	if !ok {
		return Window{}, fmt.Errorf("sector %q: want BEGIN:END", s)
	}
	begin, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return Window{}, fmt.Errorf("sector %q: %w", s, err)
	}
	end, err := strconv.ParseFloat(strings.TrimSpace(e), 64)
	if err != nil {
		return Window{}, fmt.Errorf("sector %q: %w", s, err)
	}
	w := Window{Begin: begin, End: end}
	return w, w.Validate()
}

// Validate checks that both ends of the window are in [0, 1].
func (w Window) Validate() error {
	if !(w.Begin >= 0 && w.Begin <= 1 && w.End >= 0 && w.End <= 1) {
		return fmt.Errorf("sector %v: ends must be in [0, 1]", w)
	}
	return nil
}

// Contains reports whether azimuth pos falls in the window.
func (w Window) Contains(pos float64) bool {
	if w.Begin <= w.End {
		return pos >= w.Begin && pos < w.End
	}
	return pos >= w.Begin || pos < w.End
}

func (w Window) String() string {
	return strconv.FormatFloat(w.Begin, 'g', -1, 64) + ":" + strconv.FormatFloat(w.End, 'g', -1, 64)
}

// Filter removes pulses whose azimuth lies in any of its windows.  The
// zero Filter keeps everything.  A Filter is not modified after
// NewFilter, so it may be shared.
type Filter struct {
	windows         []Window
	acpsPerRotation uint32
	acpClocks       float64 // nominal ADC clocks between ACPs; 0 if unknown
}

// NewFilter returns a filter for a radar with acpsPerRotation ACPs per
// rotation, turning at rpm (0 if unknown).
func NewFilter(windows []Window, acpsPerRotation uint32, rpm float64) (*Filter, error) {
	if len(windows) > MaxRemovals {
		return nil, fmt.Errorf("%d sector removals; at most %d allowed", len(windows), MaxRemovals)
	}
	for _, w := range windows {
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}
	if len(windows) > 0 && acpsPerRotation == 0 {
		return nil, fmt.Errorf("sector removal needs the number of ACPs per rotation")
	}
	f := &Filter{
		windows:         append([]Window(nil), windows...),
		acpsPerRotation: acpsPerRotation,
	}
	if rpm > 0 && acpsPerRotation > 0 {
		f.acpClocks = fpga.FAST_ADC_CLOCK * 60 / rpm / float64(acpsPerRotation)
	}
	return f, nil
}

// Windows returns the filter's removal windows.
func (f *Filter) Windows() []Window {
	return append([]Window(nil), f.windows...)
}

// Active reports whether the filter can remove anything.
func (f *Filter) Active() bool {
	return f != nil && len(f.windows) > 0
}

// Position returns the azimuth of a pulse as a fraction of a rotation
// in [0, 1): ACPs since the last ARP, plus the fraction of the current
// ACP interval elapsed at the trigger.
func (f *Filter) Position(h *buffer.Header) float64 {
	if f.acpsPerRotation == 0 {
		return 0
	}
	acps := float64(h.ACPCount - h.ACPAtARP)
	if f.acpClocks > 0 && h.TrigClock > h.ACPClock {
		acps += min(float64(h.TrigClock-h.ACPClock)/f.acpClocks, 1)
	}
	pos := acps / float64(f.acpsPerRotation)
	pos -= math.Floor(pos)
	if pos >= 1 {
		pos = 0
	}
	return pos
}

// RetainedAt reports whether a pulse at azimuth pos is kept.
func (f *Filter) RetainedAt(pos float64) bool {
	for _, w := range f.windows {
		if w.Contains(pos) {
			return false
		}
	}
	return true
}

// Retained reports whether the pulse with header h is kept.
func (f *Filter) Retained(h *buffer.Header) bool {
	if !f.Active() {
		return true
	}
	return f.RetainedAt(f.Position(h))
}
