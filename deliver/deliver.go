// Package deliver moves completed chunks of pulses from the ring to
// the output sink.
package deliver

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/jbrzusto/digdar/buffer"
	"github.com/jbrzusto/digdar/fpga"
	"github.com/jbrzusto/digdar/sector"
)

// DefaultPoll is how long the loop sleeps when no chunk is ready.
const DefaultPoll = 20 * time.Microsecond

// A Sink consumes the surviving pulses of one chunk.  The slots alias
// the ring and are only valid until WriteChunk returns.
type Sink interface {
	WriteChunk(slots []buffer.Slot) error
}

// Stats counts what the loop has done.
type Stats struct {
	Chunks    uint64  // chunks handled
	Pulses    uint64  // pulses passed to the sink
	Removed   uint64  // pulses removed by the sector filter
	Invalid   uint64  // slots without the pulse sentinel
	Overruns  uint64  // chunks lost to the producer lapping the ring
	PRF       float64 // trigger rate over the last chunk, Hz; 0 if unknown
	PRFStdDev float64 // standard deviation of the same
}

// Loop is the consumer side of the pulse ring.
type Loop struct {
	chunks *buffer.Chunks
	filter *sector.Filter
	sink   Sink
	poll   time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats

	keep  []buffer.Slot
	rates []float64 // instantaneous trigger rates within a chunk
}

// New returns a delivery loop passing the pulses of chunks that filter
// retains to sink.  A nil filter keeps every pulse.
func New(chunks *buffer.Chunks, filter *sector.Filter, sink Sink, poll time.Duration, logger *zap.Logger) *Loop {
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &Loop{
		chunks: chunks,
		filter: filter,
		sink:   sink,
		poll:   poll,
		logger: logger,
		keep:   make([]buffer.Slot, 0, chunks.ChunkSize()),
	}
}

// Stats returns the loop's counters.  It may be called from any
// goroutine.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Run delivers chunks until acquisition has ended and every chunk has
// been offered.  It returns early only if the sink fails; the error
// then wraps digdar.ErrSinkWrite.  Cancelling ctx does not stop
// delivery by itself: the acquisition loop observes the same context
// and closes the ring, after which the remaining data are flushed.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("[deliver] started", zap.Int("chunkSize", l.chunks.ChunkSize()), zap.Bool("sectorFilter", l.filter.Active()))
	for {
		ch, ok := l.chunks.TryGetChunk()
		if !ok {
			if l.chunks.Drained() {
				s := l.Stats()
				l.logger.Info("[deliver] drained",
					zap.Uint64("chunks", s.Chunks),
					zap.Uint64("pulses", s.Pulses),
					zap.Uint64("removed", s.Removed),
					zap.Uint64("invalid", s.Invalid),
					zap.Uint64("overruns", s.Overruns),
					zap.Float64("prf", s.PRF),
					zap.Float64("prfStdDev", s.PRFStdDev))
				return nil
			}
			time.Sleep(l.poll)
			continue
		}
		err := l.deliver(ch)
		l.chunks.Release(ch)
		if err != nil {
			l.logger.Error("[deliver] sink failed", zap.Error(err), zap.Uint64("chunk", ch.Seq))
			return fmt.Errorf("deliver chunk %d: %w", ch.Seq, err)
		}
	}
}

// deliver validates and filters the pulses of one leased chunk and
// hands the survivors to the sink.
func (l *Loop) deliver(ch buffer.Chunk) error {
	slots, err := l.chunks.Ring().Slots(ch.Start, ch.Pulses)
	if err != nil {
		return err
	}

	l.keep = l.keep[:0]
	l.rates = l.rates[:0]
	var invalid, removed uint64
	var firstErr error
	var prev buffer.Header
	havePrev := false
	for _, s := range slots {
		if err := s.Check(); err != nil {
			invalid++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		h := s.Header()
		if havePrev && h.TrigCount > prev.TrigCount && h.TrigClock > prev.TrigClock {
			dt := float64(h.TrigClock-prev.TrigClock) / float64(h.TrigCount-prev.TrigCount)
			l.rates = append(l.rates, fpga.FAST_ADC_CLOCK/dt)
		}
		prev, havePrev = h, true
		if !l.filter.Retained(&h) {
			removed++
			continue
		}
		l.keep = append(l.keep, s)
	}

	if invalid > 0 {
		l.logger.Warn("[deliver] skipped invalid slots", zap.Error(firstErr), zap.Uint64("chunk", ch.Seq), zap.Uint64("count", invalid))
	}
	overruns := l.chunks.Overruns()
	l.mu.Lock()
	if overruns > l.stats.Overruns {
		l.logger.Warn("[deliver] ring overrun; chunks lost", zap.Uint64("chunk", ch.Seq), zap.Uint64("lost", overruns-l.stats.Overruns))
	}
	l.stats.Chunks++
	l.stats.Invalid += invalid
	l.stats.Removed += removed
	l.stats.Overruns = overruns
	l.stats.PRF, l.stats.PRFStdDev = prf(l.rates)
	l.mu.Unlock()

	if len(l.keep) == 0 {
		return nil
	}
	if err := l.sink.WriteChunk(l.keep); err != nil {
		return err
	}
	l.mu.Lock()
	l.stats.Pulses += uint64(len(l.keep))
	l.mu.Unlock()
	return nil
}

// prf returns the mean and standard deviation of trigger rates.
func prf(rates []float64) (mean, stddev float64) {
	if len(rates) == 0 {
		return 0, 0
	}
	mean, stddev = stat.MeanStdDev(rates, nil)
	if math.IsNaN(stddev) {
		stddev = 0
	}
	return mean, stddev
}
