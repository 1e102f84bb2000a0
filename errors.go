// Package digdar digitizes radar pulses from the redpitaya FPGA (digdar
// build) and delivers them, in chunks, to a byte stream or a capture
// database.
//
// The subpackages are:
//
//   - fpga: the hardware trigger port (registers, arm/trigger, sample BRAM)
//   - buffer: the pulse record layout, the pulse ring buffer and the chunk
//     handoff between the acquisition and delivery goroutines
//   - sector: azimuth sector removal
//   - acquire: the acquisition state machine (producer)
//   - deliver: the delivery loop (consumer)
//   - sink: raw stream and capture database outputs
//   - capturedb: sqlite capture store
//   - config: startup configuration
//   - capture: wiring of all of the above for one run
//
// This file holds the error categories shared by those packages.  Callers
// classify errors with errors.Is.
package digdar

import "errors"

var (
	// ErrConfiguration is returned for any invalid startup setting.
	// Acquisition never starts after one of these.
	ErrConfiguration = errors.New("configuration error")

	// ErrAcquisitionTimeout means a single trigger wait exceeded its bound.
	// The acquisition loop recovers by retrying the cycle.
	ErrAcquisitionTimeout = errors.New("acquisition timeout")

	// ErrBufferIntegrity means a ring buffer slot did not carry the pulse
	// sentinel when it was consumed.  The slot is skipped.
	ErrBufferIntegrity = errors.New("buffer integrity error")

	// ErrSinkWrite is a persistent failure writing to the output sink.
	ErrSinkWrite = errors.New("sink write error")

	// ErrAllocation means the pulse ring buffer could not be allocated.
	ErrAllocation = errors.New("allocation error")

	// ErrInvalidChunkSize is a request for more slots than the ring holds.
	ErrInvalidChunkSize = errors.New("invalid chunk size")
)
