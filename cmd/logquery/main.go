package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/polarfoxDev/berth/internal/config"
	"github.com/polarfoxDev/berth/internal/database"
	"github.com/polarfoxDev/berth/internal/helpers"
	"github.com/polarfoxDev/berth/internal/logging"
)

func main() {
	configFlag := flag.String("config", "", "Path to the config file (default $BERTH_CONFIG or ~/.berth/config.yml)")
	dbPath := flag.String("db", "", "Path to the database (overrides the config file)")
	runID := flag.Int("run", 0, "Filter by run ID")
	configID := flag.Int("backup", 0, "Filter by backup configuration ID")
	passID := flag.String("pass", "", "Filter by pass ID")
	level := flag.String("level", "", "Filter by log level (DEBUG, INFO, SUCCESS, WARN, ERROR)")
	since := flag.String("since", "", "Filter logs since time (RFC3339 format)")
	until := flag.String("until", "", "Filter logs until time (RFC3339 format)")
	limit := flag.Int("limit", 100, "Maximum number of logs to return")
	prune := flag.String("prune", "", "Prune logs and finished runs older than duration (e.g., '720h' or '30d')")

	flag.Parse()

	path := *dbPath
	if path == "" {
		cfgPath, explicit := config.Path(*configFlag)
		cfg, err := config.Load(cfgPath, !explicit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		path = cfg.Database
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "No database configured")
		os.Exit(1)
	}

	db, err := database.InitDB(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	logger, err := logging.New(db.GetDB(), os.Stderr, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}

	// Handle pruning if requested
	if *prune != "" {
		duration, err := helpers.ParseInterval(*prune)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid duration format: %v\n", err)
			os.Exit(1)
		}
		deleted, err := logger.PruneOldLogs(duration)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error pruning logs: %v\n", err)
			os.Exit(1)
		}
		runs, err := db.PruneRuns(context.Background(), duration)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error pruning runs: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Pruned %d log entries and %d runs older than %v\n", deleted, runs, duration)
		return
	}

	// Build query options
	opts := logging.QueryOptions{
		PassID:   *passID,
		ConfigID: *configID,
		RunID:    *runID,
		Limit:    *limit,
	}

	if *level != "" {
		opts.Level = logging.LogLevel(*level)
	}

	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid since time format: %v\n", err)
			os.Exit(1)
		}
		opts.Since = t
	}

	if *until != "" {
		t, err := time.Parse(time.RFC3339, *until)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid until time format: %v\n", err)
			os.Exit(1)
		}
		opts.Until = t
	}

	entries, err := logger.Query(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying logs: %v\n", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Println("No logs found matching criteria")
		return
	}

	// Print results in a table
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tLEVEL\tBACKUP\tRUN\tMESSAGE")
	fmt.Fprintln(w, "─────────\t─────\t──────\t───\t───────")

	for _, entry := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			entry.Timestamp.Format(logging.TimestampFormat),
			entry.Level,
			idOrDash(entry.ConfigID),
			idOrDash(entry.RunID),
			helpers.Ellipsize(entry.Message, 80),
		)
	}

	w.Flush()
	fmt.Printf("\nShowing %d results\n", len(entries))
}

func idOrDash(id int) string {
	if id == 0 {
		return "-"
	}
	return strconv.Itoa(id)
}
