// Package acquire runs the digitizer: it waits for each radar trigger,
// reads the pulse's metadata and samples from the FPGA, and stores
// them in the next slot of the pulse ring.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jbrzusto/digdar"
	"github.com/jbrzusto/digdar/buffer"
	"github.com/jbrzusto/digdar/fpga"
)

// Default timing.  Polling every 10 us imposes a maximum PRF of
// roughly 100 kHz, well above any marine radar.
const (
	DefaultPollInterval   = 10 * time.Microsecond
	DefaultTriggerTimeout = time.Second
	idleWait              = 10 * time.Millisecond
)

// nsPerClock converts ADC clock ticks to nanoseconds.
const nsPerClock = 1e9 / fpga.FAST_ADC_CLOCK

// State is the acquisition state.
type State int32

const (
	Idle    State = iota // waiting for a start request
	Start                // about to arm the digitizer
	Running              // capturing pulses
	Quit                 // stopping at the top of the next cycle
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Start:
		return "start"
	case Running:
		return "running"
	case Quit:
		return "quit"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Config holds acquisition timing.
type Config struct {
	PollInterval   time.Duration // between trigger polls; 0 yields the processor instead
	TriggerTimeout time.Duration // give up waiting for a trigger after this long
	Trigger        fpga.TrigType // trigger source; TRG_TRIG if unset
}

// Stats counts what the loop has done.
type Stats struct {
	Captured uint64 // pulses stored in the ring
	Timeouts uint64 // trigger waits abandoned
	Dropped  uint64 // pulses discarded because their slot was being delivered
}

// Loop is the producer side of the pulse ring.
type Loop struct {
	port   fpga.Port
	chunks *buffer.Chunks
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	state    atomic.Int32
	captured atomic.Uint64
	timeouts atomic.Uint64

	samples []uint16 // scratch copy of one pulse's samples
	refSec  uint32
	refNsec uint32
}

// New returns an idle acquisition loop that reads pulses from port
// into the ring behind chunks.
func New(port fpga.Port, chunks *buffer.Chunks, cfg Config, logger *zap.Logger) *Loop {
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = DefaultTriggerTimeout
	}
	if cfg.Trigger == fpga.TRG_NONE {
		cfg.Trigger = fpga.TRG_TRIG
	}
	return &Loop{
		port:    port,
		chunks:  chunks,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		samples: make([]uint16, chunks.Ring().SamplesPerPulse()),
	}
}

// State returns the current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Request asks for a state change and reports whether it was
// accepted.  Only Idle to Start and anything to Quit are allowed.
func (l *Loop) Request(s State) bool {
	switch s {
	case Start:
		return l.state.CompareAndSwap(int32(Idle), int32(Start))
	case Quit:
		l.state.Store(int32(Quit))
		return true
	}
	return false
}

// Stats returns the loop's counters.  It may be called from any
// goroutine.
func (l *Loop) Stats() Stats {
	return Stats{
		Captured: l.captured.Load(),
		Timeouts: l.timeouts.Load(),
		Dropped:  l.chunks.Dropped(),
	}
}

// Reference returns the wall clock time of ADC clock zero, as recorded
// when the loop started.
func (l *Loop) Reference() (sec, nsec uint32) {
	return l.refSec, l.refNsec
}

// Run drives the state machine until a Quit request or until ctx is
// done, both of which are noticed at the top of each cycle.  On return
// the ring is closed so the final partial chunk can be delivered.
// Trigger timeouts are counted and never end the run; an error is
// returned only if the digitizer rejects its settings.
func (l *Loop) Run(ctx context.Context) error {
	defer l.chunks.Close()
	defer func() {
		s := l.Stats()
		l.logger.Info("[acquire] stopped",
			zap.Uint64("captured", s.Captured),
			zap.Uint64("timeouts", s.Timeouts),
			zap.Uint64("dropped", s.Dropped))
	}()

	for {
		if ctx.Err() != nil {
			l.state.Store(int32(Quit))
		}
		switch l.State() {
		case Quit:
			return nil
		case Idle:
			select {
			case <-ctx.Done():
			case <-time.After(idleWait):
			}
		case Start:
			if err := l.start(); err != nil {
				return err
			}
			l.state.CompareAndSwap(int32(Start), int32(Running))
		case Running:
			if err := l.cycle(); err != nil {
				return err
			}
		}
	}
}

// start arms the digitizer for the first pulse and records the wall
// clock time corresponding to ADC clock zero.
func (l *Loop) start() error {
	if err := l.port.SetNumSamp(uint32(len(l.samples))); err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	l.port.Arm()
	l.port.SelectTrig(l.cfg.Trigger)

	clocks := l.port.Clocks()
	ref := l.now().Add(-time.Duration(float64(clocks) * nsPerClock))
	l.refSec = uint32(ref.Unix())
	l.refNsec = uint32(ref.Nanosecond())

	l.logger.Info("[acquire] started",
		zap.Int("samplesPerPulse", len(l.samples)),
		zap.Int("ringPulses", l.chunks.Ring().Capacity()),
		zap.Int("chunkSize", l.chunks.ChunkSize()),
		zap.Time("clockZero", ref))
	return nil
}

// cycle captures one pulse.
func (l *Loop) cycle() error {
	if err := l.port.SetNumSamp(uint32(len(l.samples))); err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	if err := l.waitTrigger(); err != nil {
		if errors.Is(err, digdar.ErrAcquisitionTimeout) {
			n := l.timeouts.Add(1)
			l.logger.Debug("[acquire] no trigger", zap.Error(err), zap.Uint64("timeouts", n))
			return nil
		}
		return err
	}

	c := l.port.ReadCounters()
	wp := l.port.WritePointer()

	// re-arm so the next pulse is captured while this one is copied
	l.port.Arm()
	l.port.SelectTrig(l.cfg.Trigger)

	slot, ok := l.chunks.Next()
	if !ok {
		return nil
	}
	slot.SetMagic(0)
	slot.SetHeader(&buffer.Header{
		TrigCount: c.TrigCount,
		TrigClock: c.TrigClock,
		ACPClock:  c.ACPClock,
		ARPClock:  c.ARPClock,
		ACPCount:  c.ACPCount,
		ARPCount:  c.ARPCount,
		ACPAtARP:  c.ACPAtARP,
		RefSec:    l.refSec,
		RefNsec:   l.refNsec,
	})
	l.port.ReadSamples(l.samples, wp)
	for i, v := range l.samples {
		slot.SetSample(i, buffer.Sample(v))
	}
	slot.SetMagic(buffer.MAGIC)
	l.chunks.Publish()
	l.captured.Add(1)
	return nil
}

// waitTrigger polls the digitizer until it has captured a pulse.
func (l *Loop) waitTrigger() error {
	var waited time.Duration
	for !l.port.HasTriggered() {
		if waited >= l.cfg.TriggerTimeout {
			return fmt.Errorf("no trigger after %v: %w", waited, digdar.ErrAcquisitionTimeout)
		}
		if l.cfg.PollInterval > 0 {
			time.Sleep(l.cfg.PollInterval)
			waited += l.cfg.PollInterval
		} else {
			runtime.Gosched()
			waited += time.Microsecond
		}
	}
	return nil
}
