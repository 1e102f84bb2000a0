package capture

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jbrzusto/digdar"
	"github.com/jbrzusto/digdar/buffer"
	"github.com/jbrzusto/digdar/capturedb"
	"github.com/jbrzusto/digdar/config"
	"github.com/jbrzusto/digdar/fpga"
	"github.com/jbrzusto/digdar/sink"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Samples = 8
	cfg.Pulses = 10
	cfg.ChunkSize = 5
	cfg.Timing.Poll = 0
	cfg.Timing.TriggerTimeout = 5 * time.Millisecond
	cfg.Timing.DeliveryPoll = time.Microsecond
	return cfg
}

// run starts p and stops it once the sim has produced all its pulses.
func run(t *testing.T, p *Pipeline, pulses uint64) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	require.Eventually(t, func() bool {
		a, _ := p.Stats()
		return a.Captured == pulses
	}, 5*time.Second, time.Millisecond)
	p.Stop()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
		return nil
	}
}

// lockedBuffer is written by the delivery goroutine and read by the
// test.
type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return bytes.Clone(l.b.Bytes())
}

func TestStreamPipeline(t *testing.T) {
	log := zaptest.NewLogger(t)
	cfg := testConfig()
	sim := fpga.NewSim(fpga.SimConfig{Pulses: 3})
	var out lockedBuffer

	p, err := New(cfg, sim, sink.NewStream(&out, "test", log), log)
	require.NoError(t, err)
	require.NoError(t, run(t, p, 3))

	want, err := p.ring.Bytes(0, 3)
	require.NoError(t, err)
	got := out.Bytes()
	assert.Equal(t, want, got)

	slots, err := buffer.ParseRecords(got, cfg.Samples)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	var last uint64
	for i, s := range slots {
		h := s.Header()
		assert.Equal(t, uint32(i+1), h.TrigCount)
		assert.Greater(t, h.TrigClock, last)
		last = h.TrigClock
		for j := 0; j < cfg.Samples; j++ {
			assert.Equal(t, buffer.Sample(fpga.SimSample(h.TrigCount, j)), s.Sample(j))
		}
	}

	a, d := p.Stats()
	assert.Equal(t, uint64(0), a.Dropped)
	assert.Equal(t, uint64(3), d.Pulses)
	assert.Equal(t, uint64(1), d.Chunks)
	require.NoError(t, p.Close())
}

func TestStorePipeline(t *testing.T) {
	log := zaptest.NewLogger(t)
	cfg := testConfig()
	cfg.Sum = true
	cfg.Decim = 2
	st, err := sink.OpenStore(filepath.Join(t.TempDir(), "capture.db"), log)
	require.NoError(t, err)

	p, err := New(cfg, fpga.NewSim(fpga.SimConfig{Pulses: 7}), st, log)
	require.NoError(t, err)
	require.NoError(t, run(t, p, 7))

	c, err := st.DB().Capture()
	require.NoError(t, err)
	assert.Equal(t, capturedb.RetainFull, c.RetainMode)
	assert.Equal(t, 5, c.PulsesPerTxn)
	assert.Equal(t, 8, c.DigitizeSamples)
	assert.Equal(t, DigitizeBits, c.DigitizeBits)
	assert.InDelta(t, 62.5e6, c.DigitizeRate, 1e-6)
	assert.InDelta(t, 2*16383.0, c.DigitizeScale, 1e-9)
	assert.InDelta(t, cfg.Radar.RPM, c.RadarRPM, 1e-9)

	geos, err := st.DB().Geos()
	require.NoError(t, err)
	assert.Len(t, geos, 1)

	ps, err := st.DB().Pulses()
	require.NoError(t, err)
	require.Len(t, ps, 7)
	for i, pl := range ps {
		assert.Equal(t, uint32(i+1), pl.TrigCount)
		assert.Len(t, pl.Samples, 2*cfg.Samples)
	}
	require.NoError(t, p.Close())
}

type failingSink struct{ closed bool }

func (f *failingSink) WriteChunk([]buffer.Slot) error {
	return fmt.Errorf("connection reset: %w", digdar.ErrSinkWrite)
}

func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestSinkFailureStopsPipeline(t *testing.T) {
	log := zaptest.NewLogger(t)
	out := &failingSink{}
	p, err := New(testConfig(), fpga.NewSim(fpga.SimConfig{}), out, log)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, digdar.ErrSinkWrite)
	case <-time.After(5 * time.Second):
		t.Fatal("sink failure did not stop the pipeline")
	}
	require.NoError(t, p.Close())
	assert.True(t, out.closed)
}

func TestContextCancelStopsPipeline(t *testing.T) {
	log := zaptest.NewLogger(t)
	var out lockedBuffer
	p, err := New(testConfig(), fpga.NewSim(fpga.SimConfig{Pulses: 2}), sink.NewStream(&out, "test", log), log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.Eventually(t, func() bool {
		a, _ := p.Stats()
		return a.Captured == 2
	}, 5*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop the pipeline")
	}
	assert.Len(t, out.Bytes(), 2*buffer.SlotSize(8))
}

func TestNewRejectsOversizedRing(t *testing.T) {
	cfg := testConfig()
	cfg.Samples = fpga.SAMPLES_PER_BUFF
	cfg.Pulses = 40000
	cfg.ChunkSize = 10
	out := &failingSink{}
	_, err := New(cfg, fpga.NewSim(fpga.SimConfig{}), out, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, digdar.ErrAllocation)
	assert.True(t, out.closed, "New closes the sink when it fails")
}

func TestStopBeforeRun(t *testing.T) {
	p, err := New(testConfig(), fpga.NewSim(fpga.SimConfig{}), &failingSink{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	p.Stop()
	assert.Error(t, p.Run(context.Background()))
	assert.NoError(t, p.Close())
}
