// Package config loads the calsync configuration.
//
// A configuration is a YAML file checked against an embedded CUE schema.
// Defaults fill what the file leaves out, and CALSYNC_* environment
// variables, optionally read from a .env file, override both.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/calsync/internal/directory"
)

//go:embed schema.cue
var schemaCUE string

// Environment variables that override the file.
const (
	EnvDatabaseDriver = "CALSYNC_DATABASE_DRIVER"
	EnvDatabaseDSN    = "CALSYNC_DATABASE_DSN"
	EnvPodID          = "CALSYNC_POD_ID"
	EnvPodListen      = "CALSYNC_POD_LISTEN"
	EnvPodSecret      = "CALSYNC_POD_SECRET"
	EnvPurgeBatchSize = "CALSYNC_PURGE_BATCH_SIZE"
	EnvLogLevel       = "CALSYNC_LOG_LEVEL"
)

// Config is the full configuration.
type Config struct {
	Database Database `yaml:"database"`
	Pod      Pod      `yaml:"pod"`

	// Directory maps principal UIDs to the pod hosting them. Principals
	// not listed live on this pod.
	Directory map[string]string `yaml:"directory"`

	Purge Purge `yaml:"purge"`
	Log   Log   `yaml:"log"`
}

type Database struct {
	Driver string `yaml:"driver"` // "sqlite" | "mysql"
	DSN    string `yaml:"dsn"`
}

type Pod struct {
	ID     string `yaml:"id"`
	Listen string `yaml:"listen"`

	// Secret signs conduit requests. Every pod shares it.
	Secret string `yaml:"secret"`

	// Peers maps pod ids to conduit base URLs.
	Peers map[string]string `yaml:"peers"`
}

type Purge struct {
	BatchSize  int `yaml:"batch_size"`
	RetainDays int `yaml:"retain_days"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database: Database{Driver: "sqlite", DSN: "calsync.db"},
		Pod:      Pod{ID: "local", Listen: ":8008"},
		Purge:    Purge{BatchSize: 100, RetainDays: 365},
		Log:      Log{Level: "info"},
	}
}

// Error reports an invalid configuration.
type Error struct {
	Path     string
	Problems []string
}

func (e *Error) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("config %s: %s", e.Path, e.Problems[0])
	}
	return fmt.Sprintf("config %s: %d problems: %v", e.Path, len(e.Problems), e.Problems)
}

// IsConfigError reports whether err is an invalid configuration.
func IsConfigError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// Load reads the file at path, or only defaults and environment when path
// is empty. A .env file in the working directory is loaded first if
// present; variables already set win over it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, annotate(err, path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, annotate(err, path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, annotate(err, path)
	}
	return cfg, nil
}

func annotate(err error, path string) error {
	var e *Error
	if errors.As(err, &e) && e.Path == "" {
		if path == "" {
			path = "(environment)"
		}
		e.Path = path
	}
	return err
}

// Parse checks data against the schema and decodes it over cfg, so keys
// absent from data keep their current values.
func Parse(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return &Error{Problems: []string{err.Error()}}
	}
	if err := checkSchema(raw); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &Error{Problems: []string{err.Error()}}
	}
	return nil
}

func checkSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	v := schema.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &Error{Problems: []string{err.Error()}}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvDatabaseDriver, &c.Database.Driver)
	set(EnvDatabaseDSN, &c.Database.DSN)
	set(EnvPodID, &c.Pod.ID)
	set(EnvPodListen, &c.Pod.Listen)
	set(EnvPodSecret, &c.Pod.Secret)
	set(EnvLogLevel, &c.Log.Level)
	if v, ok := lookup(EnvPurgeBatchSize); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return &Error{Problems: []string{fmt.Sprintf("%s: want a positive integer, got %q", EnvPurgeBatchSize, v)}}
		}
		c.Purge.BatchSize = n
	}
	return nil
}

// Validate checks the rules that span fields or come from the
// environment.
func (c *Config) Validate() error {
	var problems []string
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DSN == "" {
			problems = append(problems, "database.dsn: required")
		}
	case "mysql":
		if _, err := mysql.ParseDSN(c.Database.DSN); err != nil {
			problems = append(problems, fmt.Sprintf("database.dsn: %v", err))
		}
	default:
		problems = append(problems, fmt.Sprintf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if c.Pod.ID == "" {
		problems = append(problems, "pod.id: required")
	}
	remote := c.RemotePods()
	if len(remote) > 0 && c.Pod.Secret == "" {
		problems = append(problems, "pod.secret: required when principals live on other pods")
	}
	for _, pod := range remote {
		if _, ok := c.Pod.Peers[pod]; !ok {
			problems = append(problems, fmt.Sprintf("pod.peers: no address for pod %q", pod))
		}
	}
	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

// RemotePods lists the pods other than this one that the directory
// assigns principals to, sorted.
func (c *Config) RemotePods() []string {
	seen := map[string]bool{}
	for _, pod := range c.Directory {
		if pod != c.Pod.ID {
			seen[pod] = true
		}
	}
	out := make([]string, 0, len(seen))
	for pod := range seen {
		out = append(out, pod)
	}
	sort.Strings(out)
	return out
}

// PrincipalDirectory builds the directory of this pod.
func (c *Config) PrincipalDirectory() *directory.Directory {
	return directory.New(c.Pod.ID, c.Directory)
}
