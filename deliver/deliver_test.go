package deliver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jbrzusto/digdar"
	"github.com/jbrzusto/digdar/buffer"
	"github.com/jbrzusto/digdar/sector"
)

// recorder is a sink that keeps copies of everything written to it.
type recorder struct {
	chunks [][]buffer.Header
	fail   error
}

func (r *recorder) WriteChunk(slots []buffer.Slot) error {
	if r.fail != nil {
		return r.fail
	}
	hs := make([]buffer.Header, len(slots))
	for i, s := range slots {
		hs[i] = s.Header()
	}
	r.chunks = append(r.chunks, hs)
	return nil
}

func (r *recorder) trigs() []uint32 {
	var ts []uint32
	for _, c := range r.chunks {
		for _, h := range c {
			ts = append(ts, h.TrigCount)
		}
	}
	return ts
}

// fill publishes n pulses at 1 kHz, one ACP per pulse, 100 ACPs per
// rotation.
func fill(t *testing.T, c *buffer.Chunks, from, n int) {
	t.Helper()
	for i := from; i < from+n; i++ {
		s, ok := c.Next()
		require.True(t, ok)
		s.SetMagic(0)
		s.SetHeader(&buffer.Header{
			TrigCount: uint32(i),
			TrigClock: uint64(i) * 125000,
			ACPCount:  uint32(i % 100),
		})
		s.SetMagic(buffer.MAGIC)
		c.Publish()
	}
}

func newChunks(t *testing.T, pulses, chunkSize int) *buffer.Chunks {
	t.Helper()
	r, err := buffer.NewRing(pulses, 2)
	require.NoError(t, err)
	c, err := buffer.NewChunks(r, chunkSize)
	require.NoError(t, err)
	return c
}

func TestDeliversAllThenDrains(t *testing.T) {
	c := newChunks(t, 40, 10)
	fill(t, c, 0, 25)
	c.Close()

	sink := &recorder{}
	l := New(c, nil, sink, time.Microsecond, zaptest.NewLogger(t))
	require.NoError(t, l.Run(context.Background()))

	want := make([]uint32, 25)
	for i := range want {
		want[i] = uint32(i)
	}
	assert.Equal(t, want, sink.trigs())
	require.Len(t, sink.chunks, 3)
	assert.Len(t, sink.chunks[2], 5)

	s := l.Stats()
	assert.Equal(t, uint64(3), s.Chunks)
	assert.Equal(t, uint64(25), s.Pulses)
	assert.InDelta(t, 1000, s.PRF, 1e-9)
	assert.InDelta(t, 0, s.PRFStdDev, 1e-9)
}

func TestDrainLogsPRF(t *testing.T) {
	c := newChunks(t, 40, 10)
	fill(t, c, 0, 20)
	c.Close()

	core, logs := observer.New(zap.InfoLevel)
	l := New(c, nil, &recorder{}, time.Microsecond, zap.New(core))
	require.NoError(t, l.Run(context.Background()))

	drained := logs.FilterMessage("[deliver] drained").All()
	require.Len(t, drained, 1)
	fields := drained[0].ContextMap()
	assert.Equal(t, uint64(20), fields["pulses"])
	assert.InDelta(t, 1000, fields["prf"], 1e-9)
	assert.InDelta(t, 0, fields["prfStdDev"], 1e-9)
}

func TestDeliveryWaitsForProducer(t *testing.T) {
	c := newChunks(t, 40, 10)
	sink := &recorder{}
	l := New(c, nil, sink, time.Microsecond, zaptest.NewLogger(t))
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	go func() {
		for i := 0; i < 30; i += 10 {
			time.Sleep(2 * time.Millisecond)
			for j := i; j < i+10; j++ {
				s, _ := c.Next()
				s.SetMagic(0)
				s.SetHeader(&buffer.Header{TrigCount: uint32(j)})
				s.SetMagic(buffer.MAGIC)
				c.Publish()
			}
		}
		c.Close()
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not finish")
	}
	assert.Len(t, sink.trigs(), 30)
}

func TestSectorRemoval(t *testing.T) {
	c := newChunks(t, 100, 10)
	fill(t, c, 0, 100)
	c.Close()

	w, err := sector.ParseWindow("0.2:0.8")
	require.NoError(t, err)
	f, err := sector.NewFilter([]sector.Window{w}, 100, 0)
	require.NoError(t, err)

	sink := &recorder{}
	l := New(c, f, sink, time.Microsecond, zaptest.NewLogger(t))
	require.NoError(t, l.Run(context.Background()))

	trigs := sink.trigs()
	assert.Len(t, trigs, 40)
	for _, tr := range trigs {
		assert.True(t, tr < 20 || tr >= 80, "pulse %d is in the removed sector", tr)
	}
	assert.Equal(t, uint64(60), l.Stats().Removed)
	assert.Len(t, sink.chunks, 4, "chunks with no survivors are not written")
}

func TestInvalidSlotsSkipped(t *testing.T) {
	c := newChunks(t, 20, 10)
	fill(t, c, 0, 10)
	c.Ring().Slot(3).SetMagic(0xdeadbeef)
	c.Close()

	sink := &recorder{}
	l := New(c, nil, sink, time.Microsecond, zaptest.NewLogger(t))
	require.NoError(t, l.Run(context.Background()))
	assert.NotContains(t, sink.trigs(), uint32(3))
	assert.Len(t, sink.trigs(), 9)
	assert.Equal(t, uint64(1), l.Stats().Invalid)
}

func TestSinkErrorEndsDelivery(t *testing.T) {
	c := newChunks(t, 20, 10)
	fill(t, c, 0, 20)

	sink := &recorder{fail: fmt.Errorf("broken pipe: %w", digdar.ErrSinkWrite)}
	l := New(c, nil, sink, time.Microsecond, zaptest.NewLogger(t))
	err := l.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, digdar.ErrSinkWrite))

	// the failed chunk was released
	ch, ok := c.TryGetChunk()
	require.True(t, ok)
	assert.Equal(t, uint64(1), ch.Seq)
}
