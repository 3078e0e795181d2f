package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/nxsh/runtime/shell"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

// TestFromEnvParsesVariables verifies each NXSH_* variable lands in the config
func TestFromEnvParsesVariables(t *testing.T) {
	t.Parallel()

	cfg := FromEnv(envOf(map[string]string{
		EnvSubstSplit:   "1",
		EnvIFS:          ",",
		EnvSubstStderr:  "MERGE",
		EnvTimeoutMS:    "250",
		EnvCmdTimeoutMS: "2000",
		EnvExecStrategy: "mir",
		EnvDebug:        "1",
	}), Config{})

	assert.Equal(t, Config{
		Strategy:       "mir",
		Timeout:        Duration{250 * time.Millisecond},
		CommandTimeout: Duration{2 * time.Second},
		SubstSplit:     true,
		IFS:            ",",
		SubstStderr:    "merge",
		Debug:          true,
	}, cfg)
}

// TestFromEnvParseOrDefault verifies bad values keep the base configuration
func TestFromEnvParseOrDefault(t *testing.T) {
	t.Parallel()

	base := Config{Timeout: Duration{time.Second}, Strategy: "ast"}
	cfg := FromEnv(envOf(map[string]string{
		EnvTimeoutMS:    "soon",
		EnvCmdTimeoutMS: "-5",
		EnvExecStrategy: "turbo",
	}), base)
	assert.Equal(t, base, cfg)
}

// TestJITImpliesMIR verifies both spellings of the native switch select MIR
func TestJITImpliesMIR(t *testing.T) {
	t.Parallel()

	a := FromEnv(envOf(map[string]string{EnvJIT: "1"}), Config{})
	assert.True(t, a.UseMIR())
	assert.True(t, a.Native)

	b := FromEnv(envOf(map[string]string{EnvExecStrategy: "jit"}), Config{})
	assert.True(t, b.UseMIR())
	assert.True(t, b.Native)

	c := FromEnv(envOf(map[string]string{EnvExecStrategy: "interpreter"}), Config{Strategy: "mir"})
	assert.False(t, c.UseMIR())
}

// TestResolveLayersFileUnderEnv verifies the TOML file is overridden by the environment
func TestResolveLayersFileUnderEnv(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nxsh.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
strategy = "mir"
timeout = "3s"
command_timeout = "500ms"
pipefail = true
ifs = ":"
`), 0o644))

	cfg, err := Resolve(envOf(map[string]string{EnvConfig: path, EnvTimeoutMS: "100"}))
	require.NoError(t, err)
	assert.Equal(t, "mir", cfg.Strategy)
	assert.Equal(t, 100*time.Millisecond, cfg.Timeout.Duration)
	assert.Equal(t, 500*time.Millisecond, cfg.CommandTimeout.Duration)
	assert.True(t, cfg.Pipefail)
	assert.Equal(t, ":", cfg.IFS)

	_, err = Resolve(envOf(map[string]string{EnvConfig: filepath.Join(t.TempDir(), "missing.toml")}))
	assert.Error(t, err)
}

// TestApplyArmsContext verifies deadlines, options and substitution variables reach the context
func TestApplyArmsContext(t *testing.T) {
	t.Parallel()

	sh := shell.New([]string{EnvIFS + "=;"})
	cfg := Config{
		Timeout:        Duration{time.Hour},
		CommandTimeout: Duration{time.Second},
		SubstSplit:     true,
		IFS:            ",",
		Errexit:        true,
	}
	require.NoError(t, cfg.Apply(sh))

	_, armed := sh.Deadline()
	assert.True(t, armed)
	assert.Equal(t, time.Second, sh.CommandTimeout())
	assert.True(t, sh.Opts.Errexit)
	assert.Equal(t, "1", sh.Lookup(EnvSubstSplit))
	assert.Equal(t, ";", sh.Lookup(EnvIFS), "existing variables win over the file")
}
