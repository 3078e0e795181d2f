// Package config collects the knobs the execution core reads from its
// environment: NXSH_* variables, optionally layered over a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/opal-lang/nxsh/runtime/shell"
)

// Environment variable names.
const (
	EnvConfig         = "NXSH_CONFIG"
	EnvSubstSplit     = "NXSH_SUBST_SPLIT"
	EnvIFS            = "NXSH_IFS"
	EnvSubstStderr    = "NXSH_SUBST_STDERR"
	EnvTimeoutMS      = "NXSH_TIMEOUT_MS"
	EnvCmdTimeoutMS   = "NXSH_CMD_TIMEOUT_MS"
	EnvExecStrategy   = "NXSH_EXEC_STRATEGY"
	EnvJIT            = "NXSH_JIT"
	EnvDebug          = "NXSH_DEBUG"
	defaultConfigName = "config.toml"
)

// Duration is a time.Duration written as "1.5s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the resolved configuration.
type Config struct {
	// Strategy is "ast" (default) or "mir".
	Strategy string `toml:"strategy"`
	// Native enables the native compilation step of the MIR path. It
	// implies Strategy "mir".
	Native bool `toml:"native"`

	Timeout        Duration `toml:"timeout"`
	CommandTimeout Duration `toml:"command_timeout"`

	SubstSplit  bool   `toml:"subst_split"`
	IFS         string `toml:"ifs"`
	SubstStderr string `toml:"subst_stderr"` // "merge" or "separate"

	Errexit  bool `toml:"errexit"`
	Pipefail bool `toml:"pipefail"`
	Xtrace   bool `toml:"xtrace"`

	Debug bool `toml:"debug"`
}

// Load reads a TOML file.
func Load(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve builds the configuration the way the shell starts up: the file
// named by NXSH_CONFIG (or the user config file if present), then NXSH_*
// environment variables on top. A missing default file is not an error.
func Resolve(getenv func(string) string) (Config, error) {
	var base Config
	path := getenv(EnvConfig)
	if path == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			p := filepath.Join(dir, "nxsh", defaultConfigName)
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if path != "" {
		cfg, err := Load(os.ExpandEnv(path))
		if err != nil {
			return Config{}, err
		}
		base = cfg
	}
	return FromEnv(getenv, base), nil
}

// FromEnv overlays NXSH_* variables onto base. Values that fail to parse
// are ignored and base is kept.
func FromEnv(getenv func(string) string, base Config) Config {
	cfg := base
	if v := getenv(EnvSubstSplit); v != "" {
		cfg.SubstSplit = v == "1"
	}
	if v, ok := lookup(getenv, EnvIFS); ok {
		cfg.IFS = v
	}
	if v := getenv(EnvSubstStderr); v != "" {
		cfg.SubstStderr = strings.ToLower(v)
	}
	if d, ok := millis(getenv(EnvTimeoutMS)); ok {
		cfg.Timeout = Duration{d}
	}
	if d, ok := millis(getenv(EnvCmdTimeoutMS)); ok {
		cfg.CommandTimeout = Duration{d}
	}
	switch strings.ToLower(getenv(EnvExecStrategy)) {
	case "ast", "interp", "interpreter":
		cfg.Strategy = "ast"
	case "mir":
		cfg.Strategy = "mir"
	case "jit":
		cfg.Strategy, cfg.Native = "mir", true
	}
	if getenv(EnvJIT) == "1" {
		cfg.Native = true
	}
	if cfg.Native {
		cfg.Strategy = "mir"
	}
	if getenv(EnvDebug) == "1" {
		cfg.Debug = true
	}
	return cfg
}

func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	return v, v != ""
}

func millis(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 63)
	if err != nil {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}

// UseMIR reports whether the MIR strategy is selected.
func (c Config) UseMIR() bool { return c.Strategy == "mir" }

// Apply arms the session: deadlines, options, and the substitution
// variables the executor reads from the context.
func (c Config) Apply(sh *shell.Context) error {
	if c.Timeout.Duration > 0 {
		sh.SetTimeout(c.Timeout.Duration)
	}
	if c.CommandTimeout.Duration > 0 {
		sh.SetCommandTimeout(c.CommandTimeout.Duration)
	}
	sh.Opts.Errexit = sh.Opts.Errexit || c.Errexit
	sh.Opts.Pipefail = sh.Opts.Pipefail || c.Pipefail
	sh.Opts.Xtrace = sh.Opts.Xtrace || c.Xtrace

	set := func(name, value string) error {
		if value == "" {
			return nil
		}
		if _, ok := sh.Get(name); ok {
			return nil
		}
		return sh.Set(name, value)
	}
	split := ""
	if c.SubstSplit {
		split = "1"
	}
	if err := set(EnvSubstSplit, split); err != nil {
		return err
	}
	if err := set(EnvIFS, c.IFS); err != nil {
		return err
	}
	return set(EnvSubstStderr, c.SubstStderr)
}
