// Package capturedb stores digitized pulses in a sqlite database.
//
// Each run of the digitizer is one capture, identified by a random
// UUID.  The capture row records the radar and digitizing modes; pulses
// are inserted in transactions of a configurable number of pulses, so
// that one chunk from the ring becomes one transaction.
package capturedb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Retain modes.
const (
	RetainFull = "full" // keep every pulse
	RetainNone = "none" // record metadata only
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// DB is an open capture database.  It is not safe for concurrent use.
type DB struct {
	db     *sql.DB
	id     string
	logger *zap.Logger

	perTxn int
	retain string
	tx     *sql.Tx
	insert *sql.Stmt
	inTxn  int
}

// Open opens (creating if needed) the capture database at path and
// starts a new capture in it.
func Open(path string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("capturedb: %w", err)
	}
	// a single connection keeps the pragmas in force and serializes
	// the open pulse transaction with everything else
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, multierr.Append(fmt.Errorf("capturedb: %s: %w", p, err), db.Close())
		}
	}

	d := &DB{
		db:     db,
		id:     uuid.New().String(),
		logger: logger,
		perTxn: 1,
		retain: RetainFull,
	}
	if err := d.migrateUp(); err != nil {
		return nil, multierr.Append(fmt.Errorf("capturedb: %w", err), db.Close())
	}
	if _, err := db.Exec("INSERT INTO captures (capture_id, started) VALUES (?, ?)", d.id, unixSeconds(time.Now())); err != nil {
		return nil, multierr.Append(fmt.Errorf("capturedb: %w", err), db.Close())
	}
	logger.Info("[capturedb] capture started", zap.String("path", path), zap.String("capture", d.id))
	return d, nil
}

// CaptureID returns the identifier of the current capture.
func (d *DB) CaptureID() string { return d.id }

func (d *DB) updateCapture(set string, args ...any) error {
	if err := d.Flush(); err != nil {
		return err
	}
	args = append(args, d.id)
	if _, err := d.db.Exec("UPDATE captures SET "+set+" WHERE capture_id = ?", args...); err != nil {
		return fmt.Errorf("capturedb: %w", err)
	}
	return nil
}

// SetRadarMode records the radar's transmit parameters: power in
// watts, pulse length in nanoseconds, pulse repetition frequency in Hz
// and rotation rate in RPM.
func (d *DB) SetRadarMode(power, pulseLengthNs, prf, rpm float64) error {
	return d.updateCapture("radar_power = ?, radar_plen = ?, radar_prf = ?, radar_rpm = ?", power, pulseLengthNs, prf, rpm)
}

// SetDigitizeMode records the sampling rate in Hz, bits per sample,
// the value of a full-scale sample, and samples per pulse.
func (d *DB) SetDigitizeMode(rate float64, bits int, scale float64, samples int) error {
	return d.updateCapture("digitize_rate = ?, digitize_bits = ?, digitize_scale = ?, digitize_samples = ?", rate, bits, scale, samples)
}

// SetRetainMode selects whether pulse samples are stored (RetainFull)
// or only their metadata (RetainNone).
func (d *DB) SetRetainMode(mode string) error {
	if mode != RetainFull && mode != RetainNone {
		return fmt.Errorf("capturedb: unknown retain mode %q", mode)
	}
	if err := d.updateCapture("retain_mode = ?", mode); err != nil {
		return err
	}
	d.retain = mode
	return nil
}

// SetPulsesPerTransaction sets how many pulses are committed at once.
func (d *DB) SetPulsesPerTransaction(n int) error {
	if n < 1 {
		return fmt.Errorf("capturedb: %d pulses per transaction", n)
	}
	if err := d.updateCapture("pulses_per_txn = ?", n); err != nil {
		return err
	}
	d.perTxn = n
	return nil
}

// RecordGeo records the radar's position at time ts.  headingOffset is
// the compass heading, in degrees, of the ARP.
func (d *DB) RecordGeo(ts time.Time, lat, lon, alt, headingOffset float64) error {
	if err := d.Flush(); err != nil {
		return err
	}
	_, err := d.db.Exec("INSERT INTO geo (capture_id, ts, lat, lon, alt, heading_offset) VALUES (?, ?, ?, ?, ?, ?)",
		d.id, unixSeconds(ts), lat, lon, alt, headingOffset)
	if err != nil {
		return fmt.Errorf("capturedb: %w", err)
	}
	return nil
}

// RecordPulse adds one pulse to the current transaction, committing it
// once it holds the configured number of pulses.  ts is in seconds
// since the Unix epoch; samples are the raw little-endian sample bytes.
func (d *DB) RecordPulse(ts float64, trigCount uint32, trigClock, acpClock uint64, arpCount uint32, elevation float64, polarization int, samples []byte) error {
	if d.tx == nil {
		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("capturedb: begin: %w", err)
		}
		stmt, err := tx.Prepare(`INSERT INTO pulses
			(capture_id, ts, trig_count, trig_clock, acp_clock, arp_count, elevation, polarization, samples)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return multierr.Append(fmt.Errorf("capturedb: prepare: %w", err), tx.Rollback())
		}
		d.tx, d.insert = tx, stmt
	}
	if d.retain == RetainNone {
		samples = nil
	}
	_, err := d.insert.Exec(d.id, ts, int64(trigCount), int64(trigClock), int64(acpClock), int64(arpCount), elevation, polarization, samples)
	if err != nil {
		return multierr.Append(fmt.Errorf("capturedb: insert pulse: %w", err), d.rollback())
	}
	d.inTxn++
	if d.inTxn >= d.perTxn {
		return d.Flush()
	}
	return nil
}

// Flush commits any pulses not yet committed.
func (d *DB) Flush() error {
	if d.tx == nil {
		return nil
	}
	err := d.insert.Close()
	if cerr := d.tx.Commit(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("capturedb: commit: %w", cerr))
	}
	d.tx, d.insert, d.inTxn = nil, nil, 0
	return err
}

func (d *DB) rollback() error {
	if d.tx == nil {
		return nil
	}
	err := multierr.Append(d.insert.Close(), d.tx.Rollback())
	d.tx, d.insert, d.inTxn = nil, nil, 0
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// Close commits outstanding pulses and closes the database.
func (d *DB) Close() error {
	err := d.Flush()
	return multierr.Append(err, d.db.Close())
}

// Capture describes one run of the digitizer.
type Capture struct {
	ID              string
	Started         float64
	RadarPower      float64
	RadarPulseLen   float64
	RadarPRF        float64
	RadarRPM        float64
	DigitizeRate    float64
	DigitizeBits    int
	DigitizeScale   float64
	DigitizeSamples int
	RetainMode      string
	PulsesPerTxn    int
}

// Capture returns the current capture's settings.
func (d *DB) Capture() (Capture, error) {
	if err := d.Flush(); err != nil {
		return Capture{}, err
	}
	var c Capture
	var power, plen, prf, rpm, rate, scale sql.NullFloat64
	var bits, samples sql.NullInt64
	err := d.db.QueryRow(`SELECT capture_id, started, radar_power, radar_plen, radar_prf, radar_rpm,
		digitize_rate, digitize_bits, digitize_scale, digitize_samples, retain_mode, pulses_per_txn
		FROM captures WHERE capture_id = ?`, d.id).Scan(
		&c.ID, &c.Started, &power, &plen, &prf, &rpm, &rate, &bits, &scale, &samples, &c.RetainMode, &c.PulsesPerTxn)
	if err != nil {
		return Capture{}, fmt.Errorf("capturedb: %w", err)
	}
	c.RadarPower, c.RadarPulseLen, c.RadarPRF, c.RadarRPM = power.Float64, plen.Float64, prf.Float64, rpm.Float64
	c.DigitizeRate, c.DigitizeScale = rate.Float64, scale.Float64
	c.DigitizeBits, c.DigitizeSamples = int(bits.Int64), int(samples.Int64)
	return c, nil
}

// Pulse is a stored pulse.
type Pulse struct {
	TS           float64
	TrigCount    uint32
	TrigClock    uint64
	ACPClock     uint64
	ARPCount     uint32
	Elevation    float64
	Polarization int
	Samples      []byte
}

// Pulses commits pending pulses and returns all pulses of the current
// capture in the order they were recorded.
func (d *DB) Pulses() ([]Pulse, error) {
	if err := d.Flush(); err != nil {
		return nil, err
	}
	rows, err := d.db.Query(`SELECT ts, trig_count, trig_clock, acp_clock, arp_count, elevation, polarization, samples
		FROM pulses WHERE capture_id = ? ORDER BY pulse_id`, d.id)
	if err != nil {
		return nil, fmt.Errorf("capturedb: %w", err)
	}
	defer rows.Close()

	var ps []Pulse
	for rows.Next() {
		var p Pulse
		var trigCount, trigClock, acpClock, arpCount int64
		if err := rows.Scan(&p.TS, &trigCount, &trigClock, &acpClock, &arpCount, &p.Elevation, &p.Polarization, &p.Samples); err != nil {
			return nil, fmt.Errorf("capturedb: %w", err)
		}
		p.TrigCount, p.TrigClock, p.ACPClock, p.ARPCount = uint32(trigCount), uint64(trigClock), uint64(acpClock), uint32(arpCount)
		ps = append(ps, p)
	}
	return ps, rows.Err()
}

// Geo is a stored position fix.
type Geo struct {
	TS            float64
	Lat, Lon, Alt float64
	HeadingOffset float64
}

// Geos returns the position fixes of the current capture.
func (d *DB) Geos() ([]Geo, error) {
	if err := d.Flush(); err != nil {
		return nil, err
	}
	rows, err := d.db.Query("SELECT ts, lat, lon, alt, heading_offset FROM geo WHERE capture_id = ? ORDER BY ts", d.id)
	if err != nil {
		return nil, fmt.Errorf("capturedb: %w", err)
	}
	defer rows.Close()

	var gs []Geo
	for rows.Next() {
		var g Geo
		if err := rows.Scan(&g.TS, &g.Lat, &g.Lon, &g.Alt, &g.HeadingOffset); err != nil {
			return nil, fmt.Errorf("capturedb: %w", err)
		}
		gs = append(gs, g)
	}
	return gs, rows.Err()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
