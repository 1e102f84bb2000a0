package config

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/jbrzusto/digdar"
	"github.com/jbrzusto/digdar/fpga"
	"github.com/jbrzusto/digdar/sector"
)

// ValidDecims are the decimation rates the FPGA supports.
var ValidDecims = []uint32{1, 2, 3, 4, 8, 64, 1024, 8192, 65536}

// MaxSumDecim is the largest decimation rate at which samples can be
// summed rather than averaged.
const MaxSumDecim = 4

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config key (e.g., "chunk_size")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Unwrap makes every validation failure a digdar.ErrConfiguration.
func (e ValidationErrors) Unwrap() error {
	return digdar.ErrConfiguration
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateDigitizing()...)
	errs = append(errs, c.validateBuffer()...)
	errs = append(errs, c.validateOutput()...)
	errs = append(errs, c.validateSectors()...)
	errs = append(errs, c.validateTiming()...)
	errs = append(errs, c.validateLog()...)
	return errs
}

func (c *Config) validateDigitizing() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidDecims, c.Decim) {
		errs = append(errs, ValidationError{
			Field:   "decim",
			Value:   c.Decim,
			Message: "must be 1, 2, 3, 4, 8, 64, 1024, 8192, or 65536",
		})
	}
	if c.Samples < 0 || c.Samples > fpga.SAMPLES_PER_BUFF {
		errs = append(errs, ValidationError{
			Field:   "samples",
			Value:   c.Samples,
			Message: fmt.Sprintf("samples per pulse must be 0..%d", fpga.SAMPLES_PER_BUFF),
		})
	}
	if c.Sum && c.Decim > MaxSumDecim {
		errs = append(errs, ValidationError{
			Field:   "sum",
			Value:   c.Decim,
			Message: fmt.Sprintf("cannot sum samples when decimation rate is > %d", MaxSumDecim),
		})
	}
	return errs
}

func (c *Config) validateBuffer() []ValidationError {
	var errs []ValidationError
	if c.Pulses < 1 {
		errs = append(errs, ValidationError{Field: "pulses", Value: c.Pulses, Message: "must be at least 1"})
	}
	switch {
	case c.ChunkSize < 1:
		errs = append(errs, ValidationError{Field: "chunk_size", Value: c.ChunkSize, Message: "must be at least 1"})
	case c.Pulses >= 1 && c.ChunkSize > c.Pulses:
		errs = append(errs, ValidationError{Field: "chunk_size", Value: c.ChunkSize, Message: "must not exceed pulses"})
	case c.Pulses >= 1 && c.Pulses%c.ChunkSize != 0:
		errs = append(errs, ValidationError{
			Field:   "pulses",
			Value:   c.Pulses,
			Message: fmt.Sprintf("must be a multiple of chunk_size (%d)", c.ChunkSize),
		})
	}
	return errs
}

func (c *Config) validateOutput() []ValidationError {
	var set []string
	for _, kv := range []struct{ key, val string }{{"dbfile", c.DBFile}, {"tcp", c.TCP}, {"serial", c.Serial}} {
		if kv.val != "" {
			set = append(set, kv.key)
		}
	}
	var errs []ValidationError
	if len(set) > 1 {
		errs = append(errs, ValidationError{
			Field:   strings.Join(set, ", "),
			Value:   strings.Join(set, " and "),
			Message: "only one output destination may be given",
		})
	}
	if c.TCP != "" && !strings.Contains(c.TCP, ":") {
		errs = append(errs, ValidationError{Field: "tcp", Value: c.TCP, Message: "must be HOST:PORT"})
	}
	if c.Serial != "" && c.SerialBaud <= 0 {
		errs = append(errs, ValidationError{Field: "serial_baud", Value: c.SerialBaud, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateSectors() []ValidationError {
	var errs []ValidationError
	if len(c.Remove) > sector.MaxRemovals {
		errs = append(errs, ValidationError{
			Field:   "remove",
			Value:   len(c.Remove),
			Message: fmt.Sprintf("at most %d sector removals allowed", sector.MaxRemovals),
		})
	}
	for _, r := range c.Remove {
		if _, err := sector.ParseWindow(r); err != nil {
			errs = append(errs, ValidationError{Field: "remove", Value: r, Message: err.Error()})
		}
	}
	if len(c.Remove) > 0 && c.Radar.ACPsPerRotation == 0 {
		errs = append(errs, ValidationError{
			Field:   "radar.acps_per_rotation",
			Value:   c.Radar.ACPsPerRotation,
			Message: "needed for sector removal",
		})
	}
	return errs
}

func (c *Config) validateTiming() []ValidationError {
	var errs []ValidationError
	if c.Timing.Poll < 0 {
		errs = append(errs, ValidationError{Field: "timing.poll", Value: c.Timing.Poll, Message: "must not be negative"})
	}
	if c.Timing.TriggerTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "timing.trigger_timeout", Value: c.Timing.TriggerTimeout, Message: "must be positive"})
	}
	if c.Timing.DeliveryPoll < 0 {
		errs = append(errs, ValidationError{Field: "timing.delivery_poll", Value: c.Timing.DeliveryPoll, Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateLog() []ValidationError {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return []ValidationError{{Field: "log.level", Value: c.Log.Level, Message: "must be debug, info, warn or error"}}
	}
	return nil
}

// Sectors returns the parsed sector removal windows.
func (c *Config) Sectors() ([]sector.Window, error) {
	ws := make([]sector.Window, 0, len(c.Remove))
	for _, r := range c.Remove {
		w, err := sector.ParseWindow(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", digdar.ErrConfiguration, err)
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// Warnings returns advice about settings that are valid but likely to
// lose data.
func (c *Config) Warnings() []string {
	var ws []string
	if c.ChunkSize > 0 && c.Pulses < 4*c.ChunkSize {
		ws = append(ws, fmt.Sprintf("pulses (%d) is less than 4 chunks of %d; a slow sink will lose data", c.Pulses, c.ChunkSize))
	}
	return ws
}
