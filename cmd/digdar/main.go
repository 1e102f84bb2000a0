// Command digdar digitizes radar pulses on the redpitaya and writes
// them to stdout, a TCP connection, a serial port or a sqlite database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jbrzusto/digdar"
	"github.com/jbrzusto/digdar/capture"
	"github.com/jbrzusto/digdar/config"
	"github.com/jbrzusto/digdar/fpga"
	"github.com/jbrzusto/digdar/sink"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "digdar [flags]",
		Short: "Digitize radar pulses from the redpitaya",
		Long: `Digdar captures pulses of radar video along with trigger, ACP and ARP
metadata and writes them, in chunks, to stdout, a TCP connection, a serial
port or a sqlite database.

Settings come from flags, then DIGDAR_* environment variables, then
digdar.toml in /opt or the current directory (or --config FILE).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := config.ReadFile(v, cfgFile)
			if err != nil {
				return fmt.Errorf("%w: %w", digdar.ErrConfiguration, err)
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("%w: %w", digdar.ErrConfiguration, err)
			}
			defer func() { _ = logger.Sync() }()
			if found {
				logger.Info("[digdar] read config", zap.String("file", v.ConfigFileUsed()))
			}
			for _, w := range cfg.Warnings() {
				logger.Warn("[digdar] " + w)
			}
			return run(cmd.Context(), cfg, logger)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", digdar.ErrConfiguration, err)
	})
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is digdar.toml in /opt or .)")
	if err := config.BindFlags(cmd.Flags(), v); err != nil {
		panic(err)
	}
	return cmd
}

func newLogger(l config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func openPort(cfg *config.Config) (fpga.Port, error) {
	if cfg.Simulate {
		return fpga.NewSim(fpga.SimConfig{
			PRF:             cfg.Radar.PRF,
			RPM:             cfg.Radar.RPM,
			ACPsPerRotation: cfg.Radar.ACPsPerRotation,
		}), nil
	}
	f, err := fpga.New()
	if err != nil {
		return nil, fmt.Errorf("unable to access FPGA (this program is for the redpitaya): %w", err)
	}
	return f, nil
}

// run digitizes until interrupted or until the sink fails.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	out, err := sink.Open(sink.Target{Stream: cfg.StreamTarget(), DBFile: cfg.DBFile}, logger)
	if err != nil {
		return err
	}
	port, err := openPort(cfg)
	if err != nil {
		return errors.Join(err, out.Close())
	}
	p, err := capture.New(cfg, port, out, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = p.Run(ctx)

	a, d := p.Stats()
	logger.Info("[digdar] done",
		zap.Uint64("captured", a.Captured),
		zap.Uint64("dropped", a.Dropped),
		zap.Uint64("timeouts", a.Timeouts),
		zap.Uint64("delivered", d.Pulses),
		zap.Uint64("removed", d.Removed),
		zap.Uint64("overruns", d.Overruns),
		zap.Float64("prf", d.PRF),
		zap.Float64("prfStdDev", d.PRFStdDev))
	if cerr := p.Close(); cerr != nil {
		logger.Warn("[digdar] close", zap.Error(cerr))
	}
	return err
}

// exitCode is 2 for bad settings and 1 for anything else.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, digdar.ErrConfiguration):
		return 2
	}
	return 1
}

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "digdar: %v\n", err)
	}
	os.Exit(exitCode(err))
}
