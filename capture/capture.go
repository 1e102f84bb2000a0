// Package capture wires the digitizer together: one goroutine
// acquires pulses from the FPGA into the ring buffer while another
// delivers completed chunks of them to the output sink.
package capture

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jbrzusto/digdar/acquire"
	"github.com/jbrzusto/digdar/buffer"
	"github.com/jbrzusto/digdar/capturedb"
	"github.com/jbrzusto/digdar/config"
	"github.com/jbrzusto/digdar/deliver"
	"github.com/jbrzusto/digdar/fpga"
	"github.com/jbrzusto/digdar/sector"
	"github.com/jbrzusto/digdar/sink"
)

// DigitizeBits is the sample width recorded with captures; summed
// samples need all 16 bits.
const DigitizeBits = 16

// tuner is a Port whose pulse detection can be configured.
type tuner interface {
	Apply(s *fpga.Settings)
}

// Pipeline owns everything needed for one run of the digitizer.
type Pipeline struct {
	cfg    *config.Config
	port   fpga.Port
	out    sink.Sink
	logger *zap.Logger

	ring    *buffer.Ring
	chunks  *buffer.Chunks
	acquire *acquire.Loop
	deliver *deliver.Loop
}

// New allocates the pulse ring, programs the digitizer and prepares
// the sink.  The pipeline takes ownership of port and out, closing them
// in Close, even if New fails.
func New(cfg *config.Config, port fpga.Port, out sink.Sink, logger *zap.Logger) (p *Pipeline, err error) {
	defer func() {
		if err != nil {
			err = multierr.Combine(err, out.Close(), port.Close())
		}
	}()

	ring, err := buffer.NewRing(cfg.Pulses, cfg.Samples)
	if err != nil {
		return nil, err
	}
	chunks, err := buffer.NewChunks(ring, cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	windows, err := cfg.Sectors()
	if err != nil {
		return nil, err
	}
	filter, err := sector.NewFilter(windows, cfg.Radar.ACPsPerRotation, cfg.Radar.RPM)
	if err != nil {
		return nil, err
	}

	if err := port.SetDecim(cfg.Decim); err != nil {
		return nil, err
	}
	port.SetOptions(cfg.Digdar.Options(cfg.Decim, cfg.Sum))
	if t, ok := port.(tuner); ok {
		t.Apply(&cfg.Digdar)
	}

	if st, ok := out.(*sink.Store); ok {
		if err := RecordModes(st.DB(), cfg); err != nil {
			return nil, err
		}
	}

	p = &Pipeline{
		cfg:    cfg,
		port:   port,
		out:    out,
		logger: logger,
		ring:   ring,
		chunks: chunks,
	}
	p.acquire = acquire.New(port, chunks, acquire.Config{
		PollInterval:   cfg.Timing.Poll,
		TriggerTimeout: cfg.Timing.TriggerTimeout,
	}, logger)
	p.deliver = deliver.New(chunks, filter, out, cfg.Timing.DeliveryPoll, logger)

	logger.Info("[capture] ready",
		zap.Uint32("decim", cfg.Decim),
		zap.Bool("sum", cfg.Sum),
		zap.Int("samples", cfg.Samples),
		zap.Int("pulses", cfg.Pulses),
		zap.Int("chunkSize", cfg.ChunkSize),
		zap.Int("ringBytes", ring.Capacity()*ring.SlotSize()),
		zap.Stringers("removals", windows))
	return p, nil
}

// RecordModes records the radar and digitizing modes and the site of a
// new capture.
func RecordModes(db *capturedb.DB, cfg *config.Config) error {
	r := cfg.Radar
	if err := db.SetRadarMode(r.Power, r.PulseLength, r.PRF, r.RPM); err != nil {
		return err
	}
	if err := db.SetDigitizeMode(cfg.SampleRate(), DigitizeBits, cfg.SampleScale(), cfg.Samples); err != nil {
		return err
	}
	if err := db.SetRetainMode(capturedb.RetainFull); err != nil {
		return err
	}
	if err := db.SetPulsesPerTransaction(cfg.ChunkSize); err != nil {
		return err
	}
	s := cfg.Site
	return db.RecordGeo(time.Now(), s.Lat, s.Lon, s.Alt, s.HeadingOffset)
}

// Run acquires and delivers pulses until ctx is done or Stop is
// called, then flushes what remains in the ring.  A sink failure stops
// acquisition and is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if !p.acquire.Request(acquire.Start) {
		return fmt.Errorf("capture: pipeline stopped before it started")
	}
	g.Go(func() error { return p.acquire.Run(gctx) })
	g.Go(func() error { return p.deliver.Run(gctx) })
	return g.Wait()
}

// Stop asks acquisition to end.  Delivery ends once the ring drains.
func (p *Pipeline) Stop() {
	p.acquire.Request(acquire.Quit)
}

// Stats returns the acquisition and delivery counters.
func (p *Pipeline) Stats() (acquire.Stats, deliver.Stats) {
	return p.acquire.Stats(), p.deliver.Stats()
}

// Close releases the sink and the digitizer.
func (p *Pipeline) Close() error {
	return multierr.Combine(p.out.Close(), p.port.Close())
}
