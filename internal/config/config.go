package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polarfoxDev/berth/internal/backend"
	"github.com/polarfoxDev/berth/internal/helpers"
	"github.com/polarfoxDev/berth/internal/policy"
)

// DefaultSchedule wakes the daemon at the top of every hour
const DefaultSchedule = "0 * * * *"

// Config represents the complete configuration file
type Config struct {
	StateFile      string     `yaml:"stateFile,omitempty"`
	LogFile        string     `yaml:"logFile,omitempty"`
	Database       string     `yaml:"database,omitempty"`       // sqlite file for logs and run history
	Schedule       string     `yaml:"schedule,omitempty"`       // cron expression for availability checks
	StaleAfter     string     `yaml:"staleAfter,omitempty"`     // e.g. "24h" or "1d"
	RunInitialPass *bool      `yaml:"runInitialPass,omitempty"` // daemon runs a pass right after start
	Sync           SyncConfig `yaml:"sync,omitempty"`
	API            APIConfig  `yaml:"api,omitempty"`
}

// SyncConfig configures the external sync tool
type SyncConfig struct {
	Binary        string     `yaml:"binary,omitempty"`
	Args          []string   `yaml:"args,omitempty"`
	Excludes      StringList `yaml:"excludes,omitempty"`
	CaptureChunks int        `yaml:"captureChunks,omitempty"` // stdout reads kept for the run summary
}

// APIConfig configures the optional status API served by the daemon
type APIConfig struct {
	Listen      string     `yaml:"listen,omitempty"`   // empty disables the API
	Password    string     `yaml:"password,omitempty"` // optional, enables login
	CORSOrigins StringList `yaml:"corsOrigins,omitempty"`
	StaticDir   string     `yaml:"staticDir,omitempty"` // frontend build served by cmd/api
}

// StringList accepts both a YAML sequence and a comma separated scalar:
//
//	excludes: [.DS_Store, .Trashes]
//	excludes: ".DS_Store, .Trashes"
type StringList []string

// UnmarshalYAML implements custom YAML unmarshaling to support the shorthand string notation
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*l = helpers.SplitCSV(value.Value)
		return nil
	}
	var raw []string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*l = raw
	return nil
}

// Default returns the configuration used when no file exists.
// Files live under $HOME/.berth, or ./.berth when no home directory is known.
func Default() *Config {
	dir := DefaultDir()
	initial := true
	return &Config{
		StateFile:      filepath.Join(dir, "state.json"),
		LogFile:        filepath.Join(dir, "berth.log"),
		Database:       filepath.Join(dir, "berth.db"),
		Schedule:       DefaultSchedule,
		StaleAfter:     "24h",
		RunInitialPass: &initial,
		Sync: SyncConfig{
			Binary:        backend.DefaultBinary,
			Args:          backend.DefaultArgs(),
			Excludes:      append(StringList(nil), backend.DefaultExcludes...),
			CaptureChunks: backend.DefaultCaptureChunks,
		},
	}
}

// DefaultDir is the directory holding state, logs and the database by default
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".berth"
	}
	return filepath.Join(home, ".berth")
}

// DefaultPath is where the config file is looked up when neither --config nor BERTH_CONFIG is set
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yml")
}

// Load reads and parses the config file, expanding environment variables.
// Unset fields keep their defaults, and BERTH_* environment variables override the file.
// A missing file is not an error when allowMissing is set.
func Load(path string, allowMissing bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err) && allowMissing:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables in all fields
	cfg.StateFile = expandEnv(cfg.StateFile)
	cfg.LogFile = expandEnv(cfg.LogFile)
	cfg.Database = expandEnv(cfg.Database)
	cfg.Schedule = expandEnv(cfg.Schedule)
	cfg.StaleAfter = expandEnv(cfg.StaleAfter)
	cfg.Sync.Binary = expandEnv(cfg.Sync.Binary)
	for i := range cfg.Sync.Args {
		cfg.Sync.Args[i] = expandEnv(cfg.Sync.Args[i])
	}
	for i := range cfg.Sync.Excludes {
		cfg.Sync.Excludes[i] = expandEnv(cfg.Sync.Excludes[i])
	}
	cfg.API.Listen = expandEnv(cfg.API.Listen)
	cfg.API.Password = expandEnv(cfg.API.Password)
	cfg.API.StaticDir = expandEnv(cfg.API.StaticDir)

	cfg.applyEnv()

	cfg.StateFile = expandHome(cfg.StateFile)
	cfg.LogFile = expandHome(cfg.LogFile)
	cfg.Database = expandHome(cfg.Database)
	cfg.Sync.Binary = expandHome(cfg.Sync.Binary)
	cfg.API.StaticDir = expandHome(cfg.API.StaticDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BERTH_STATE_FILE"); v != "" {
		c.StateFile = v
	}
	if v := os.Getenv("BERTH_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("BERTH_DB"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("BERTH_SCHEDULE"); v != "" {
		c.Schedule = v
	}
	if v := os.Getenv("BERTH_EXCLUDES"); v != "" {
		c.Sync.Excludes = helpers.SplitCSV(v)
	}
	if v := os.Getenv("BERTH_API_LISTEN"); v != "" {
		c.API.Listen = v
	}
	if v := os.Getenv("BERTH_CORS_ORIGINS"); v != "" {
		c.API.CORSOrigins = append(c.API.CORSOrigins, helpers.SplitCSV(v)...)
	}
	if v := os.Getenv("BERTH_INITIAL_PASS"); v != "" {
		b := helpers.ParseBool(v)
		c.RunInitialPass = &b
	}
}

// Validate checks the values that would otherwise only fail once the daemon is running
func (c *Config) Validate() error {
	if c.StateFile == "" {
		return fmt.Errorf("stateFile must not be empty")
	}
	if err := helpers.ValidateCron(c.Schedule); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	d, err := helpers.ParseInterval(c.StaleAfter)
	if err != nil {
		return fmt.Errorf("staleAfter: %w", err)
	}
	if d < time.Hour {
		return fmt.Errorf("staleAfter: %s is below the one hour granularity", c.StaleAfter)
	}
	if d%time.Hour != 0 {
		return fmt.Errorf("staleAfter: %s is not a whole number of hours", c.StaleAfter)
	}
	if c.Sync.CaptureChunks < 0 {
		return fmt.Errorf("sync.captureChunks must not be negative")
	}
	return nil
}

// StaleAfterDuration returns the parsed staleness threshold
func (c *Config) StaleAfterDuration() time.Duration {
	d, err := helpers.ParseInterval(c.StaleAfter)
	if err != nil || d < time.Hour {
		return policy.DefaultStaleAfter
	}
	return d
}

// InitialPass reports whether the daemon runs a pass before the first scheduled wakeup
func (c *Config) InitialPass() bool {
	return c.RunInitialPass == nil || *c.RunInitialPass
}

// Backend builds the sync backend described by the sync section
func (c *Config) Backend() *backend.RsyncBackend {
	b := backend.NewRsyncBackend()
	if c.Sync.Binary != "" {
		b.Binary = c.Sync.Binary
	}
	if len(c.Sync.Args) > 0 {
		b.Args = append([]string(nil), c.Sync.Args...)
	}
	if c.Sync.Excludes != nil {
		b.Excludes = append([]string(nil), c.Sync.Excludes...)
	}
	if c.Sync.CaptureChunks > 0 {
		b.CaptureChunks = c.Sync.CaptureChunks
	}
	return b
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnv expands environment variable references in the format ${VAR} or $VAR
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if match[1] == '{' {
			varName = match[2 : len(match)-1] // ${VAR}
		} else {
			varName = match[1:] // $VAR
		}
		// Return environment variable value or empty string if not set
		return os.Getenv(varName)
	})
}

// expandHome replaces a leading "~" with the user's home directory
func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	return filepath.Join(home, p[1:])
}

// Path resolves the config file location: explicit flag, then BERTH_CONFIG, then the default
func Path(flagValue string) (path string, explicit bool) {
	if flagValue != "" {
		return flagValue, true
	}
	if v := os.Getenv("BERTH_CONFIG"); v != "" {
		return v, true
	}
	return DefaultPath(), false
}

// String summarizes the effective settings for the startup log
func (c *Config) String() string {
	return fmt.Sprintf("state=%s db=%s schedule=%q staleAfter=%s excludes=[%s]",
		c.StateFile, c.Database, c.Schedule, c.StaleAfter, strings.Join(c.Sync.Excludes, ","))
}
