package sink

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jbrzusto/digdar"
	"github.com/jbrzusto/digdar/buffer"
	"github.com/jbrzusto/digdar/capturedb"
)

// Store records pulses in a capture database.  Pulses are committed in
// batches of the database's pulses per transaction, independent of
// chunk boundaries.
type Store struct {
	db     *capturedb.DB
	logger *zap.Logger
}

// OpenStore opens the capture database at path.
func OpenStore(path string, logger *zap.Logger) (*Store, error) {
	db, err := capturedb.Open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", digdar.ErrSinkWrite, err)
	}
	return NewStore(db, logger), nil
}

// NewStore returns a store sink writing to db.
func NewStore(db *capturedb.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB returns the underlying capture database, so the caller can record
// the capture's modes before pulses arrive.
func (s *Store) DB() *capturedb.DB { return s.db }

// WriteChunk records each pulse.  Pulses left over after the last full
// batch stay uncommitted until later chunks complete it or the store is
// closed.
func (s *Store) WriteChunk(slots []buffer.Slot) error {
	for _, sl := range slots {
		h := sl.Header()
		err := s.db.RecordPulse(Timestamp(&h), h.TrigCount, h.TrigClock, h.ACPClock, h.ARPCount,
			float64(h.Elevation), int(h.Polarization), sl.SampleBytes())
		if err != nil {
			return fmt.Errorf("%w: %w", digdar.ErrSinkWrite, err)
		}
	}
	return nil
}

// Close commits outstanding pulses and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
