// Package sink writes delivered pulses to their destination: either a
// raw byte stream (stdout, a TCP connection or a serial port) or a
// capture database.
package sink

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jbrzusto/digdar"
	"github.com/jbrzusto/digdar/buffer"
	"github.com/jbrzusto/digdar/fpga"
)

// A Sink consumes chunks of pulses.  The slots passed to WriteChunk
// alias the pulse ring and must not be retained.
type Sink interface {
	WriteChunk(slots []buffer.Slot) error
	Close() error
}

// Target names the destination of the pulse data.  At most one of
// Stream and DBFile may be set; if neither is, pulses go to stdout.
type Target struct {
	Stream string // "-", "tcp://host:port", "host:port" or "serial:///dev/ttyX?baud=N"
	DBFile string // path to a capture database
}

// Open opens the sink described by t.
func Open(t Target, logger *zap.Logger) (Sink, error) {
	switch {
	case t.Stream != "" && t.DBFile != "":
		return nil, fmt.Errorf("stream %q and database %q are mutually exclusive: %w", t.Stream, t.DBFile, digdar.ErrConfiguration)
	case t.DBFile != "":
		s, err := OpenStore(t.DBFile, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := OpenStream(t.Stream, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Timestamp returns the time of a pulse's trigger, in seconds since
// the Unix epoch.
func Timestamp(h *buffer.Header) float64 {
	return float64(h.RefSec) + float64(h.RefNsec)*1e-9 + float64(h.TrigClock)*fpga.FAST_ADC_SAMPLE_PERIOD
}
