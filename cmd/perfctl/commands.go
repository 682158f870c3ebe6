package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"networth-api/internal/models"
	"networth-api/internal/services"
)

type rateCmd struct {
	refresh bool
	date    string
}

func (*rateCmd) Name() string     { return "rate" }
func (*rateCmd) Synopsis() string { return "resolve an exchange rate" }
func (*rateCmd) Usage() string {
	return `perfctl rate [-refresh] [-d <date>] <FROM> <TO>

  Resolves the aggregated rate for a currency pair. With -d, resolves the
  best-effort rate for a past date.
`
}

func (c *rateCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.refresh, "refresh", false, "bypass the cache and query every provider")
	f.StringVar(&c.date, "d", "", "historical date (YYYY-MM-DD)")
}

func (c *rateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return usageError("expected <FROM> <TO>")
	}
	pair := models.NewPair(f.Arg(0), f.Arg(1))
	if err := pair.Validate(); err != nil {
		return usageError("%v", err)
	}

	a, err := openApp()
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	var res *models.RateResult
	if c.date != "" {
		day, perr := models.ParseDate(c.date)
		if perr != nil {
			return usageError("%v", perr)
		}
		res, err = a.Rates.ResolveOn(ctx, pair.From, pair.To, day)
	} else {
		res, err = a.Rates.Resolve(ctx, pair.From, pair.To, c.refresh)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: N/A\n", pair)
		return fail("%v", err)
	}
	if res.Degraded {
		fmt.Fprintln(os.Stderr, "Warning: rate refresh failed, showing last known")
	}
	if err := printJSON(res); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}

type recomputeCmd struct {
	refreshRates bool
}

func (*recomputeCmd) Name() string     { return "recompute" }
func (*recomputeCmd) Synopsis() string { return "recompute today's snapshot for a user" }
func (*recomputeCmd) Usage() string {
	return `perfctl recompute [-refresh-rates] <userId>

  Recomputes and stores today's performance snapshot.
`
}

func (c *recomputeCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.refreshRates, "refresh-rates", false, "force-refresh the user's rates first")
}

func (c *recomputeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usageError("expected <userId>")
	}
	userID, err := parseUser(f.Arg(0))
	if err != nil {
		return usageError("%v", err)
	}

	a, err := openApp()
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	var result *services.TriggerResult
	if c.refreshRates {
		result = a.Triggers.RefreshRates(ctx, userID)
	} else {
		result = a.Triggers.OnLedgerChange(ctx, userID, "manual")
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	if err := printJSON(result); err != nil {
		return fail("%v", err)
	}
	if result.Snapshot == nil {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type backfillCmd struct {
	from string
	to   string
}

func (*backfillCmd) Name() string     { return "backfill" }
func (*backfillCmd) Synopsis() string { return "recompute snapshots over a date range" }
func (*backfillCmd) Usage() string {
	return `perfctl backfill -from <date> [-to <date>] <userId>

  Recomputes every date in the range in order, each one chaining its daily
  P&L on the previous. Failed dates are reported and the run continues.
`
}

func (c *backfillCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "first date (YYYY-MM-DD)")
	f.StringVar(&c.to, "to", "", "last date (YYYY-MM-DD, defaults to today)")
}

func (c *backfillCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || c.from == "" {
		return usageError("expected -from <date> <userId>")
	}
	userID, err := parseUser(f.Arg(0))
	if err != nil {
		return usageError("%v", err)
	}

	a, err := openApp()
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	start, end, err := parseRange(c.from, c.to, a.Performance.Today(), 1)
	if err != nil {
		return usageError("%v", err)
	}

	written, err := a.Performance.Backfill(ctx, userID, start, end)
	var partial *services.PartialBackfillError
	switch {
	case err == nil:
	case errors.As(err, &partial):
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	default:
		return fail("%v", err)
	}

	out := map[string]interface{}{
		"user_id": userID,
		"start":   models.FormatDate(start),
		"end":     models.FormatDate(end),
		"written": written,
	}
	if partial != nil {
		failed := make([]string, 0, len(partial.FailedDates))
		for _, d := range partial.FailedDates {
			failed = append(failed, models.FormatDate(d))
		}
		out["failed_dates"] = failed
		out["run_id"] = partial.RunID
		if !partial.LastSuccessfulDate.IsZero() {
			out["last_successful_date"] = models.FormatDate(partial.LastSuccessfulDate)
		}
	}
	if err := printJSON(out); err != nil {
		return fail("%v", err)
	}
	if partial != nil {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type snapshotsCmd struct {
	from string
	to   string
	days int
}

func (*snapshotsCmd) Name() string     { return "snapshots" }
func (*snapshotsCmd) Synopsis() string { return "list stored snapshots for a user" }
func (*snapshotsCmd) Usage() string {
	return `perfctl snapshots [-from <date>] [-to <date>] [-n days] <userId>

  Lists stored snapshots in date order. Dates without a row are skipped.
`
}

func (c *snapshotsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "first date (YYYY-MM-DD)")
	f.StringVar(&c.to, "to", "", "last date (YYYY-MM-DD, defaults to today)")
	f.IntVar(&c.days, "n", 30, "window size when -from is not set")
}

func (c *snapshotsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usageError("expected <userId>")
	}
	userID, err := parseUser(f.Arg(0))
	if err != nil {
		return usageError("%v", err)
	}
	if c.days <= 0 {
		return usageError("-n must be positive")
	}

	a, err := openApp()
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	start, end, err := parseRange(c.from, c.to, a.Performance.Today(), c.days)
	if err != nil {
		return usageError("%v", err)
	}

	rows, err := a.Performance.ListSnapshots(ctx, userID, start, end)
	if err != nil {
		return fail("%v", err)
	}
	if err := printJSON(rows); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}

type dailyCmd struct {
	workers int
}

func (*dailyCmd) Name() string     { return "daily" }
func (*dailyCmd) Synopsis() string { return "run the daily snapshot job once" }
func (*dailyCmd) Usage() string {
	return `perfctl daily [-w workers]

  Refreshes popular rates and recomputes today's snapshot for every user.
`
}

func (c *dailyCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.workers, "w", 4, "users processed in parallel")
}

func (c *dailyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	report, err := a.Triggers.RunDaily(ctx, c.workers)
	if err != nil {
		return fail("%v", err)
	}
	if err := printJSON(report); err != nil {
		return fail("%v", err)
	}
	if report.Failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
