package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	syncmigrations "github.com/goliatone/go-identity-sync/migrations"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

// settings are the process level knobs. Import tuning lives in the YAML file.
type settings struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"file:identity-sync.db?_foreign_keys=on"`
	AppKey      string `env:"APP_KEY"`
	ConfigFile  string `env:"IDENTITY_SYNC_CONFIG"`
	Migrate     bool   `env:"MIGRATE" envDefault:"true"`
	Scheduler   bool   `env:"SCHEDULER"`
}

type cliFlags struct {
	envFile    string
	configFile string
	addr       string
	dbDriver   string
	dsn        string
	migrate    bool
	scheduler  bool
}

func parseFlags(args []string) (*pflag.FlagSet, cliFlags, error) {
	var flags cliFlags
	flagSet := pflag.NewFlagSet("identity-sync", pflag.ContinueOnError)
	flagSet.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flagSet.StringVarP(&flags.configFile, "config", "c", "", "YAML file with fetch, import, preview, queue and scheduler settings")
	flagSet.StringVar(&flags.addr, "addr", "", "HTTP listen address (env ADDR)")
	flagSet.StringVar(&flags.dbDriver, "db-driver", "", "database driver: sqlite3 or postgres (env DB_DRIVER)")
	flagSet.StringVar(&flags.dsn, "dsn", "", "database DSN (env DATABASE_DSN)")
	flagSet.BoolVar(&flags.migrate, "migrate", true, "apply SQL migrations on start (env MIGRATE)")
	flagSet.BoolVar(&flags.scheduler, "scheduler", false, "trigger interval syncs for due connections (env SCHEDULER)")
	if err := flagSet.Parse(args); err != nil {
		return nil, cliFlags{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, cliFlags{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return flagSet, flags, nil
}

// loadSettings layers the dotenv file, the environment and explicit flags.
func loadSettings(flagSet *pflag.FlagSet, flags cliFlags) (settings, error) {
	if path := strings.TrimSpace(flags.envFile); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return settings{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var cfg settings
	if err := env.Parse(&cfg); err != nil {
		return settings{}, fmt.Errorf("parse environment: %w", err)
	}
	if flagSet.Changed("config") {
		cfg.ConfigFile = flags.configFile
	}
	if flagSet.Changed("addr") {
		cfg.Addr = flags.addr
	}
	if flagSet.Changed("db-driver") {
		cfg.DBDriver = flags.dbDriver
	}
	if flagSet.Changed("dsn") {
		cfg.DatabaseDSN = flags.dsn
	}
	if flagSet.Changed("migrate") {
		cfg.Migrate = flags.migrate
	}
	if flagSet.Changed("scheduler") {
		cfg.Scheduler = flags.scheduler
	}

	dialect, err := syncmigrations.DialectForDriver(cfg.DBDriver)
	if err != nil {
		return settings{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	cfg.DBDriver = driverSQLite
	if dialect == syncmigrations.DialectPostgres {
		cfg.DBDriver = driverPostgres
	}
	if strings.TrimSpace(cfg.AppKey) == "" {
		return settings{}, fmt.Errorf("APP_KEY is required to seal connection credentials")
	}
	return cfg, nil
}

// loadConfigFile decodes the optional YAML file into the raw map consumed by
// the cfgx provider.
func loadConfigFile(path string) (map[string]any, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return raw, nil
}
