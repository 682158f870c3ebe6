package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"networth-api/internal/app"
	"networth-api/internal/config"
	"networth-api/internal/models"
	"networth-api/pkg/logger"
)

var commands = []subcommands.Command{
	&rateCmd{},
	&recomputeCmd{},
	&backfillCmd{},
	&snapshotsCmd{},
	&dailyCmd{},
}

var stdout io.Writer = os.Stdout

// openApp builds the service graph without HTTP or background workers.
// Logs go to stderr so stdout stays machine readable.
func openApp() (*app.App, error) {
	cfg := config.Load()
	cfg.Logger.Output = "stdout"
	log := logger.Init(cfg.Logger)
	log.SetOutput(os.Stderr)
	if cfg.Logger.Level == "info" {
		log.SetLevel(logrus.WarnLevel)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return app.New(cfg, log, app.Options{Registerer: prometheus.NewRegistry()})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(format string, args ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	return subcommands.ExitFailure
}

func usageError(format string, args ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	return subcommands.ExitUsageError
}

func parseUser(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

// parseRange resolves -from/-to flags. An empty to means today, an empty
// from means days-1 before to.
func parseRange(from, to string, today time.Time, days int) (time.Time, time.Time, error) {
	end := today
	if to != "" {
		d, err := models.ParseDate(to)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = d
	}
	start := end.AddDate(0, 0, -(days - 1))
	if from != "" {
		d, err := models.ParseDate(from)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = d
	}
	return start, end, nil
}
