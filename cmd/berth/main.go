package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/polarfoxDev/berth/internal/api"
	"github.com/polarfoxDev/berth/internal/auth"
	"github.com/polarfoxDev/berth/internal/config"
	"github.com/polarfoxDev/berth/internal/database"
	"github.com/polarfoxDev/berth/internal/destination"
	"github.com/polarfoxDev/berth/internal/logging"
	"github.com/polarfoxDev/berth/internal/model"
	"github.com/polarfoxDev/berth/internal/runner"
	"github.com/polarfoxDev/berth/internal/scheduler"
	"github.com/polarfoxDev/berth/internal/state"
)

const usage = `Usage: berth [--config FILE] <command> [arguments]

Commands:
  set-destination <path>                      Set the backup destination root
  add --name N --source PATH --folder F       Add a backup configuration
  remove <id>                                 Remove a backup configuration
  edit <id> [--name N] [--source PATH] [--folder F]
                                              Change a backup configuration
  backup-now [--id N]                         Back up all due configurations, or one immediately
  status                                      Show destination and backup status
  daemon                                      Check hourly and back up stale configurations
  help                                        Show this help

The config file defaults to $BERTH_CONFIG or ~/.berth/config.yml.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("berth", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configFlag := fs.String("config", "", "Path to the config file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(stdout, usage)
		return 0
	}
	cmd, cmdArgs := rest[0], rest[1:]

	var handler func(*app, []string) error
	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	case "set-destination":
		handler = cmdSetDestination
	case "add":
		handler = cmdAdd
	case "remove":
		handler = cmdRemove
	case "edit":
		handler = cmdEdit
	case "backup-now":
		handler = cmdBackupNow
	case "status":
		handler = cmdStatus
	case "daemon":
		handler = cmdDaemon
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n\n%s", cmd, usage)
		return 1
	}

	a, err := openApp(*configFlag, cmd == "daemon", stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := handler(a, cmdArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		if !errors.Is(err, errReported) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// errReported marks a failure whose details were already logged
var errReported = errors.New("failed")

// app holds everything a command needs
type app struct {
	cfg     *config.Config
	db      *database.DB // nil when the history database is disabled
	logFile *os.File
	logger  *logging.Logger
	runner  *runner.Runner
	stdout  io.Writer
	stderr  io.Writer
}

func openApp(configFlag string, daemon bool, stdout, stderr io.Writer) (*app, error) {
	path, explicit := config.Path(configFlag)
	cfg, err := config.Load(path, !explicit)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, stdout: stdout, stderr: stderr}

	if cfg.Database != "" {
		a.db, err = database.InitDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
	}

	var fileSink io.Writer
	if cfg.LogFile != "" {
		a.logFile, err = logging.OpenLogFile(cfg.LogFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		fileSink = a.logFile
	}

	// command output owns stdout; only the daemon logs there
	console := stderr
	if daemon {
		console = stdout
	}
	a.logger, err = logging.New(a.sqlDB(), console, fileSink)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init logger: %w", err)
	}

	opts := runner.Options{
		Store:          state.New(cfg.StateFile),
		Checker:        destination.Checker{},
		Backend:        cfg.Backend(),
		Logger:         a.logger,
		StaleAfter:     cfg.StaleAfterDuration(),
		ReloadEachPass: daemon,
	}
	if a.db != nil {
		opts.History = a.db
	}
	a.runner = runner.New(opts)
	return a, nil
}

func (a *app) sqlDB() *sql.DB {
	if a.db == nil {
		return nil
	}
	return a.db.GetDB()
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}

func cmdSetDestination(a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: berth set-destination <path>")
	}
	if err := a.runner.SetDestination(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Destination set to %s\n", a.runner.Snapshot().DestinationPath)
	return nil
}

func cmdAdd(a *app, args []string) error {
	fs := newFlagSet("add", a.stderr)
	name := fs.String("name", "", "Display name")
	source := fs.String("source", "", "Absolute path of the directory to back up")
	folder := fs.String("folder", "", "Folder below the destination root")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *source == "" || *folder == "" || fs.NArg() > 0 {
		return errors.New("usage: berth add --name N --source PATH --folder F")
	}

	cfg, err := a.runner.AddBackup(*name, *source, *folder)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Added backup %d %q: %s -> %s\n", cfg.ID, cfg.Name, cfg.SourcePath, cfg.OutputFolder)
	return nil
}

func cmdRemove(a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: berth remove <id>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := a.runner.RemoveBackup(id); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Removed backup %d\n", id)
	return nil
}

func cmdEdit(a *app, args []string) error {
	const editUsage = "usage: berth edit <id> [--name N] [--source PATH] [--folder F]"

	// the id may come before or after the flags
	var idArg string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		idArg, args = args[0], args[1:]
	}

	fs := newFlagSet("edit", a.stderr)
	name := fs.String("name", "", "New display name")
	source := fs.String("source", "", "New source path")
	folder := fs.String("folder", "", "New output folder")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if idArg == "" && fs.NArg() == 1 {
		idArg = fs.Arg(0)
	} else if fs.NArg() > 0 {
		return errors.New(editUsage)
	}
	if idArg == "" {
		return errors.New(editUsage)
	}
	id, err := parseID(idArg)
	if err != nil {
		return err
	}

	var edit model.ConfigEdit
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			edit.Name = name
		case "source":
			edit.SourcePath = source
		case "folder":
			edit.OutputFolder = folder
		}
	})
	if edit.Empty() {
		return errors.New(editUsage)
	}

	cfg, err := a.runner.EditBackup(id, edit)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Updated backup %d %q: %s -> %s\n", cfg.ID, cfg.Name, cfg.SourcePath, cfg.OutputFolder)
	return nil
}

func cmdBackupNow(a *app, args []string) error {
	fs := newFlagSet("backup-now", a.stderr)
	id := fs.Int("id", 0, "Back up only this configuration, ignoring staleness")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 || *id < 0 {
		return errors.New("usage: berth backup-now [--id N]")
	}
	if err := a.cfg.Backend().Init(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *id > 0 {
		res, err := a.runner.BackupNow(ctx, *id)
		if err != nil {
			if res != nil {
				// the sync ran and its failure is in the log
				return errReported
			}
			return err
		}
		fmt.Fprintf(a.stdout, "Backup %d %q completed\n", res.ConfigID, res.Name)
		return nil
	}

	report := a.runner.RunPass(ctx, model.TriggerManual)
	switch {
	case report.Skipped == runner.SkipNoDestination:
		return errors.New("no backup destination configured, run set-destination first")
	case report.Skipped == runner.SkipUnavailable:
		return fmt.Errorf("backup destination not available: %v", report.SkipErr)
	}
	fmt.Fprintf(a.stdout, "%d synced, %d failed, %d up to date\n",
		report.Synced(), report.Failed(), len(report.Results)-report.Synced()-report.Failed())
	if report.Failed() > 0 || report.Interrupted {
		return errReported
	}
	return nil
}

func cmdStatus(a *app, args []string) error {
	if len(args) > 0 {
		return errors.New("usage: berth status")
	}
	st := a.runner.Status()
	out := a.stdout

	dest := st.DestinationPath
	switch {
	case dest == "":
		dest = "(not set)"
	case destination.IsAvailable(dest):
		dest += " (available)"
	default:
		dest += " (not available)"
	}
	fmt.Fprintf(out, "Destination: %s\n", dest)
	fmt.Fprintf(out, "Last check:  %s\n", st.LastCheckAgo)
	fmt.Fprintf(out, "Stale after: %s\n\n", st.StaleAfter)

	if len(st.Configs) == 0 {
		fmt.Fprintln(out, "No backup configurations. Add one with: berth add --name N --source PATH --folder F")
		return nil
	}

	// a configuration without a completed backup may still have failed attempts on record
	var latest map[int]*model.Run
	if a.db != nil {
		var err error
		if latest, err = a.db.LatestRuns(context.Background()); err != nil {
			a.logger.Warn("Failed to read run history: %v", err)
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSOURCE\tFOLDER\tLAST BACKUP\tSTATUS\tDUE")
	for _, c := range st.Configs {
		if run := latest[c.ID]; c.Outcome == runner.OutcomeNone && run != nil && run.Status == model.RunFailed {
			c.Outcome = "Failed"
		}
		last := "never"
		if c.HoursSince != nil {
			last = fmt.Sprintf("%d hours ago", *c.HoursSince)
		}
		due := "no"
		if c.Due {
			due = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Name, c.SourcePath, c.OutputFolder, last, c.Outcome, due)
	}
	return w.Flush()
}

func cmdDaemon(a *app, args []string) error {
	if len(args) > 0 {
		return errors.New("usage: berth daemon")
	}
	log := a.logger
	if err := a.cfg.Backend().Init(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting berth daemon: %s", a.cfg)
	if a.db != nil {
		if n, err := a.db.CleanupInterruptedRuns(ctx); err != nil {
			log.Warn("Failed to clean up interrupted runs: %v", err)
		} else if n > 0 {
			log.Warn("Marked %d interrupted run(s) as aborted", n)
		}
	}

	var srv *http.Server
	if a.cfg.API.Listen != "" {
		guard := auth.New(a.cfg.API.Password)
		defer guard.Close()
		srv = a.startAPI(guard)
	}

	trig, err := scheduler.New(a.cfg.Schedule, log, func() {
		a.runner.RunPass(ctx, model.TriggerScheduled)
	})
	if err != nil {
		return err
	}

	if a.cfg.InitialPass() {
		a.runner.RunPass(ctx, model.TriggerScheduled)
	}

	trig.Start()
	log.Info("Scheduler started (%s), next check at %s", trig.Schedule(), trig.Next().Format(time.DateTime))

	<-ctx.Done()
	log.Info("Shutting down, waiting for a running pass to finish")
	if err := trig.Stop(context.Background()); err != nil {
		log.Warn("Scheduler stop: %v", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("API server shutdown: %v", err)
		}
	}
	log.Info("Stopped")
	return nil
}

func (a *app) startAPI(guard *auth.Auth) *http.Server {
	opts := api.Options{
		Status:      api.RunnerStatus{Runner: a.runner},
		Auth:        guard,
		CORSOrigins: a.cfg.API.CORSOrigins,
	}
	if a.db != nil {
		opts.Runs = a.db
		opts.Logs = a.logger
	}
	srv := &http.Server{
		Addr:              a.cfg.API.Listen,
		Handler:           api.NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info("Status API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Status API failed: %v", err)
		}
	}()
	return srv
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("berth "+name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid backup ID %q", s)
	}
	return id, nil
}
