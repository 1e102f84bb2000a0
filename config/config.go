// Package config loads digdar's settings from the command line, the
// environment and a TOML file called 'digdar.toml'.
//
// The file is looked for in /opt (the top level of the SD card on the
// current redpitaya linux image) and then in the current directory.
// Command line flags override environment variables (DIGDAR_SAMPLES,
// DIGDAR_RADAR_RPM, ...), which override the file, which overrides the
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jbrzusto/digdar/fpga"
)

// Config is everything needed to run the digitizer.
type Config struct {
	DBFile     string   `mapstructure:"dbfile"`
	TCP        string   `mapstructure:"tcp"`
	Serial     string   `mapstructure:"serial"`
	SerialBaud int      `mapstructure:"serial_baud"`
	Decim      uint32   `mapstructure:"decim"`
	Sum        bool     `mapstructure:"sum"`
	Samples    int      `mapstructure:"samples"`
	Pulses     int      `mapstructure:"pulses"`
	ChunkSize  int      `mapstructure:"chunk_size"`
	Remove     []string `mapstructure:"remove"`
	Simulate   bool     `mapstructure:"simulate"`

	Digdar fpga.Settings `mapstructure:"digdar"`
	Radar  Radar         `mapstructure:"radar"`
	Site   Site          `mapstructure:"site"`
	Timing Timing        `mapstructure:"timing"`
	Log    Log           `mapstructure:"log"`
}

// Site is where the radar is.
type Site struct {
	Lat           float64 `mapstructure:"lat"`
	Lon           float64 `mapstructure:"lon"`
	Alt           float64 `mapstructure:"alt"`
	HeadingOffset float64 `mapstructure:"heading_offset"` // compass heading of the ARP, degrees
}

// Timing controls the acquisition and delivery loops.
type Timing struct {
	Poll           time.Duration `mapstructure:"poll"`
	TriggerTimeout time.Duration `mapstructure:"trigger_timeout"`
	DeliveryPoll   time.Duration `mapstructure:"delivery_poll"`
}

// Log controls logging.
type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		SerialBaud: 115200,
		Decim:      1,
		Samples:    3000,
		Pulses:     1000,
		ChunkSize:  10,
		Digdar:     fpga.DefaultSettings(),
		Radar:      DefaultRadar(),
		Site: Site{
			Lat: 45.371907,
			Lon: -64.402584,
			Alt: 30,
		},
		Timing: Timing{
			Poll:           10 * time.Microsecond,
			TriggerTimeout: time.Second,
			DeliveryPoll:   20 * time.Microsecond,
		},
		Log: Log{Level: "info"},
	}
}

// SetDefaults registers the default configuration with v, so that
// every key is known even without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("serial_baud", d.SerialBaud)
	v.SetDefault("decim", d.Decim)
	v.SetDefault("sum", d.Sum)
	v.SetDefault("samples", d.Samples)
	v.SetDefault("pulses", d.Pulses)
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("remove", d.Remove)
	v.SetDefault("simulate", d.Simulate)
	v.SetDefault("dbfile", d.DBFile)
	v.SetDefault("tcp", d.TCP)
	v.SetDefault("serial", d.Serial)

	v.SetDefault("digdar.trig_thresh_excite", d.Digdar.TrigThreshExcite)
	v.SetDefault("digdar.trig_thresh_relax", d.Digdar.TrigThreshRelax)
	v.SetDefault("digdar.trig_delay", d.Digdar.TrigDelay)
	v.SetDefault("digdar.trig_latency", d.Digdar.TrigLatency)
	v.SetDefault("digdar.acp_thresh_excite", d.Digdar.ACPThreshExcite)
	v.SetDefault("digdar.acp_thresh_relax", d.Digdar.ACPThreshRelax)
	v.SetDefault("digdar.acp_latency", d.Digdar.ACPLatency)
	v.SetDefault("digdar.arp_thresh_excite", d.Digdar.ARPThreshExcite)
	v.SetDefault("digdar.arp_thresh_relax", d.Digdar.ARPThreshRelax)
	v.SetDefault("digdar.arp_latency", d.Digdar.ARPLatency)
	v.SetDefault("digdar.negate_video", d.Digdar.NegateVideo)

	v.SetDefault("radar.model", d.Radar.Model)
	v.SetDefault("radar.power", d.Radar.Power)
	v.SetDefault("radar.pulse_length", d.Radar.PulseLength)
	v.SetDefault("radar.prf", d.Radar.PRF)
	v.SetDefault("radar.acps_per_rotation", d.Radar.ACPsPerRotation)
	v.SetDefault("radar.rpm", d.Radar.RPM)

	v.SetDefault("site.lat", d.Site.Lat)
	v.SetDefault("site.lon", d.Site.Lon)
	v.SetDefault("site.alt", d.Site.Alt)
	v.SetDefault("site.heading_offset", d.Site.HeadingOffset)

	v.SetDefault("timing.poll", d.Timing.Poll)
	v.SetDefault("timing.trigger_timeout", d.Timing.TriggerTimeout)
	v.SetDefault("timing.delivery_poll", d.Timing.DeliveryPoll)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// BindFlags defines the command line flags on fs and binds them to
// their keys in v.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := Default()
	fs.StringP("dbfile", "b", "", "capture to this sqlite database instead of writing to stdout or TCP")
	fs.Uint32P("decim", "d", d.Decim, "decimation rate: one of 1, 2, 3, 4, 8, 64, 1024, 8192, or 65536")
	fs.BoolP("sum", "s", false, "return the sum (in 16 bits) of samples in the decimation period; only for decimation rates up to 4")
	fs.IntP("samples", "n", d.Samples, "samples per pulse (up to 16384)")
	fs.IntP("pulses", "p", d.Pulses, "number of pulses to allocate buffer for")
	fs.StringArrayP("remove", "r", nil, "remove sector START:END, as portions of the circle in [0, 1] clockwise from ARP; may be repeated")
	fs.IntP("chunk_size", "c", d.ChunkSize, "number of pulses to transfer in each chunk")
	fs.StringP("tcp", "t", "", "write to a TCP connection to HOST:PORT instead of stdout")
	fs.String("serial", "", "write to this serial port instead of stdout")
	fs.Bool("simulate", false, "digitize synthetic pulses instead of using the FPGA")

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		errs = append(errs, v.BindPFlag(f.Name, f))
	})
	return errors.Join(errs...)
}

// ReadFile reads the named config file, or if name is empty, the first
// 'digdar.toml' found in /opt or the current directory.  A missing
// default file is not an error; found reports whether one was read.
func ReadFile(v *viper.Viper, name string) (found bool, err error) {
	v.SetEnvPrefix("DIGDAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if name != "" {
		v.SetConfigFile(name)
	} else {
		v.SetConfigName("digdar")
		v.SetConfigType("toml")
		v.AddConfigPath("/opt")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if name == "" && errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("config file: %w", err)
	}
	return true, nil
}

// Load decodes v into a Config and validates it.  Validation failures
// are returned as ValidationErrors.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ValidationErrors{{Field: "config", Value: v.ConfigFileUsed(), Message: err.Error()}}
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// StreamTarget returns the stream destination: a TCP address, a serial
// port, or "-" for stdout.  It is empty when capturing to a database.
func (c *Config) StreamTarget() string {
	switch {
	case c.DBFile != "":
		return ""
	case c.TCP != "":
		return "tcp://" + c.TCP
	case c.Serial != "":
		return fmt.Sprintf("serial://%s?baud=%d", c.Serial, c.SerialBaud)
	}
	return "-"
}

// SampleScale is the value of a full-scale sample: summing adds up
// to decim 14-bit samples.
func (c *Config) SampleScale() float64 {
	n := uint32(1)
	if c.Sum && c.Decim <= 4 {
		n = c.Decim
	}
	return float64(n) * (1<<fpga.BPS_VID - 1)
}

// SampleRate is the rate in Hz of samples after decimation.
func (c *Config) SampleRate() float64 {
	return fpga.FAST_ADC_CLOCK / float64(c.Decim)
}
