package config

// Radar represents information about a specific radar
type Radar struct {
	Model           string  `mapstructure:"model"`             // name of the radar make/model; recorded with captures
	Power           float64 `mapstructure:"power"`             // power radar transmits at, in watts
	PulseLength     float64 `mapstructure:"pulse_length"`      // transmitted pulse length, in nanoseconds
	PRF             float64 `mapstructure:"prf"`               // the approximate Pulse Repetition Frequency for the mode you want to digitize
	ACPsPerRotation uint32  `mapstructure:"acps_per_rotation"` // how many ACPs in one rotation of the antenna?
	RPM             float64 `mapstructure:"rpm"`               // antenna rotation rate; 0 if unknown
}

// DefaultRadar is a Bridgemaster E in short-pulse mode.  There is no
// guarantee these values make sense for any other radar.
func DefaultRadar() Radar {
	return Radar{
		Model:           "Bridgemaster E",
		Power:           25e3,
		PulseLength:     50,
		PRF:             1800,
		ACPsPerRotation: 450,
		RPM:             28,
	}
}
