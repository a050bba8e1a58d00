package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/climate-scheduler/internal/logic"
)

func newTriggerCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage the default trigger rules",
	}
	cmd.AddCommand(newTriggerSetCommand(opts))
	cmd.AddCommand(newTriggerListCommand(opts))
	cmd.AddCommand(newTriggerDeleteCommand(opts))
	return cmd
}

type triggerFlags struct {
	at        string
	threshold float64
	mode      string
	target    float64
}

func newTriggerSetCommand(opts *RootOptions) *cobra.Command {
	f := &triggerFlags{}
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Add a default trigger, replacing any trigger at the same time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clock, err := parseClock(f.at)
			if err != nil {
				return err
			}
			t := logic.Trigger{
				Time:              clock,
				RoomTempThreshold: f.threshold,
				Action:            logic.Action{Mode: logic.Mode(strings.ToUpper(f.mode)), TargetTemp: f.target},
			}
			return withStore(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.triggers.UpsertDefaultTrigger(ctx, t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "trigger %s saved\n", t.Time)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.at, "at", "", "time of day, HH:MM (required)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "room temperature at or above which the trigger fires")
	cmd.Flags().StringVar(&f.mode, "mode", string(logic.ModeCool), "COOL or HEAT")
	cmd.Flags().Float64Var(&f.target, "target", 0, "target temperature sent to the device")
	cmd.MarkFlagRequired("at")
	cmd.MarkFlagRequired("threshold")
	cmd.MarkFlagRequired("target")
	return cmd
}

func newTriggerListCommand(opts *RootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the default triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, a *app) error {
				list, err := a.triggers.ListDefaultTriggers(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				return writeTriggers(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newTriggerDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete HH:MM",
		Short: "Delete the default trigger at a time of day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clock, err := parseClock(args[0])
			if err != nil {
				return err
			}
			key := logic.Trigger{Time: clock}.Key()
			return withStore(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.triggers.DeleteDefaultTrigger(ctx, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "trigger %s deleted\n", clock)
				return nil
			})
		},
	}
}

func newOverrideCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Manage date-specific trigger overrides",
	}
	cmd.AddCommand(newOverrideSetCommand(opts))
	cmd.AddCommand(newOverrideShowCommand(opts))
	cmd.AddCommand(newOverrideListCommand(opts))
	return cmd
}

func newOverrideSetCommand(opts *RootOptions) *cobra.Command {
	var specs []string
	cmd := &cobra.Command{
		Use:   "set YYYY-MM-DD",
		Short: "Replace the default triggers for one date",
		Long: `Replace the default triggers for one date. Each --trigger is
HH:MM,THRESHOLD,MODE,TARGET, for example 17:00,35,COOL,26.
With no --trigger the date gets an empty override and nothing fires on it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDate(args[0])
			if err != nil {
				return err
			}
			o := logic.DateOverride{Date: logic.DateOf(day), Triggers: []logic.Trigger{}}
			for _, s := range specs {
				t, err := parseTrigger(s)
				if err != nil {
					return err
				}
				o.Triggers = append(o.Triggers, t)
			}
			return withStore(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.triggers.PutOverride(ctx, o); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "override %s saved (week %d, %d triggers)\n",
					o.Date.DateKey(), o.Date.Week, len(o.Triggers))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&specs, "trigger", nil, "trigger as HH:MM,THRESHOLD,MODE,TARGET (repeatable)")
	return cmd
}

func newOverrideShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show YYYY-MM-DD",
		Short: "Print the override for one date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDate(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(ctx context.Context, a *app) error {
				o, err := a.triggers.OverrideFor(ctx, day)
				if err != nil {
					return err
				}
				if o == nil {
					return fmt.Errorf("no override for %s", args[0])
				}
				return writeJSON(cmd.OutOrStdout(), o)
			})
		},
	}
}

func newOverrideListCommand(opts *RootOptions) *cobra.Command {
	var week int
	cmd := &cobra.Command{
		Use:   "list YYYY-MM",
		Short: "List overrides in one week-of-month bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := time.Parse("2006-01", args[0]); err != nil {
				return fmt.Errorf("parse month %q: want YYYY-MM", args[0])
			}
			return withStore(cmd, opts, func(ctx context.Context, a *app) error {
				list, err := a.triggers.ListOverridesForWeek(ctx, args[0], week)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().IntVar(&week, "week", 1, "week-of-month bucket, 1-6")
	return cmd
}

// withStore opens the configured store, runs fn and closes the store.
func withStore(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildStore(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func parseClock(s string) (logic.Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return logic.Clock{}, fmt.Errorf("parse time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return logic.Clock{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return logic.Clock{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return logic.Clock{Hour: h, Minute: m}, nil
}

func parseDate(s string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: want YYYY-MM-DD", s)
	}
	return day, nil
}

// parseTrigger reads HH:MM,THRESHOLD,MODE,TARGET.
func parseTrigger(s string) (logic.Trigger, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return logic.Trigger{}, fmt.Errorf("parse trigger %q: want HH:MM,THRESHOLD,MODE,TARGET", s)
	}
	clock, err := parseClock(parts[0])
	if err != nil {
		return logic.Trigger{}, err
	}
	threshold, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return logic.Trigger{}, fmt.Errorf("parse trigger %q: threshold: %w", s, err)
	}
	target, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
	if err != nil {
		return logic.Trigger{}, fmt.Errorf("parse trigger %q: target: %w", s, err)
	}
	return logic.Trigger{
		Time:              clock,
		RoomTempThreshold: threshold,
		Action: logic.Action{
			Mode:       logic.Mode(strings.ToUpper(strings.TrimSpace(parts[2]))),
			TargetTemp: target,
		},
	}, nil
}

func writeTriggers(w io.Writer, list []logic.Trigger) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTHRESHOLD\tMODE\tTARGET")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%g\t%s\t%g\n", t.Time, t.RoomTempThreshold, t.Action.Mode, t.Action.TargetTemp)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
