package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/climate-scheduler/internal/scheduler"
	"github.com/sweeney/climate-scheduler/internal/status"
	"github.com/sweeney/climate-scheduler/internal/web"
)

// ticker runs one scheduler cycle.
type ticker interface {
	Tick(ctx context.Context, now time.Time) (scheduler.Outcome, error)
}

// connectionStatus reports broker connectivity for the status endpoint.
type connectionStatus interface {
	IsConnected() bool
}

func newRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
}

func run(ctx context.Context, opts *RootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.log

	a, err := buildApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	tracker := status.NewTracker(opts.now(), a.statusConfig())

	if addr := a.cfg.HTTPAddr; addr != "" {
		srv := web.New(addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("http status server listening", "addr", addr)
	}

	log.Info("started",
		"interval", a.cfg.Interval,
		"timezone", a.cfg.Timezone,
		"backend", a.cfg.Store.Backend,
		"sensor", a.cfg.Device.Sensor,
		"actuator", a.cfg.Device.Actuator)

	t := time.NewTicker(a.cfg.Interval)
	defer t.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var mqttStatus connectionStatus
	if a.devices.mqtt != nil {
		mqttStatus = a.devices.mqtt
	}
	return runLoop(ctx, a.sched, tracker, mqttStatus, log, opts.now, t.C, sigCh)
}

// runLoop executes one tick per timer event and returns on a signal or when
// ctx is done. A failed tick is recorded and the loop carries on.
func runLoop(ctx context.Context, sched ticker, tracker *status.Tracker, mqttStatus connectionStatus, log *slog.Logger, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Info("shutting down", "signal", s.String())
			return nil

		case <-ctx.Done():
			log.Info("shutting down", "reason", ctx.Err())
			return nil

		case <-tick:
			out, err := sched.Tick(ctx, now())
			if tracker != nil {
				tracker.Record(out)
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
			}
			if err != nil {
				log.Debug("tick will be retried at the next interval", "tick", out.TickID)
			}
		}
	}
}

func newTickCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single scheduler cycle and print its outcome",
		Long:  "Runs one cycle and prints the outcome as JSON. Intended for cron or another external scheduler; exits non-zero when the cycle fails.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := buildApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.sched.Tick(ctx, opts.now())
			if werr := writeJSON(cmd.OutOrStdout(), out); werr != nil && err == nil {
				err = werr
			}
			if err != nil {
				return fmt.Errorf("tick %s: %w", out.TickID, err)
			}
			return nil
		},
	}
}
