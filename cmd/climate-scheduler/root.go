package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/climate-scheduler/internal/config"
	"github.com/sweeney/climate-scheduler/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	log *slog.Logger
	now func() time.Time

	// openKV and openDevices build the backends named in config.
	// Tests replace them.
	openKV      func(ctx context.Context, cfg config.Config, log *slog.Logger) (store.KV, error)
	openDevices func(cfg config.Config, log *slog.Logger) (*devices, error)
}

func defaultOptions() *RootOptions {
	return &RootOptions{
		now:         time.Now,
		openKV:      openKV,
		openDevices: openDevices,
	}
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultOptions())
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "climate-scheduler",
		Short:         "Time and temperature driven air conditioner scheduler",
		Long:          "Checks the calendar, the trigger rules for the current hour and the room temperature, and switches the air conditioner on at most once per day.",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
			opts.log = slog.New(handler)
			slog.SetDefault(opts.log)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newTickCommand(opts))
	cmd.AddCommand(newTriggerCommand(opts))
	cmd.AddCommand(newOverrideCommand(opts))

	return cmd
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	return config.Load(o.ConfigPath)
}
