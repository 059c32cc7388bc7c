package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestLoadAppliesDefaultsWhenNothingElseIsSet(t *testing.T) {
	cfg, err := Load([]string{"demo"}, fakeEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Target)
	assert.Equal(t, ":7711", cfg.Addresses)
	assert.Equal(t, "cycler", cfg.Namespace)
	assert.False(t, cfg.RateLimit.Enabled, "expected rate limiting disabled by default")
}

func TestLoadRequiresExactlyOnePositionalTarget(t *testing.T) {
	_, err := Load([]string{}, fakeEnv(nil))
	assert.Error(t, err, "expected an error with no positional target")

	_, err = Load([]string{"a", "b"}, fakeEnv(nil))
	assert.Error(t, err, "expected an error with more than one positional target")
}

func TestLoadEnvOverridesFileAndFlagsOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addresses: \":1111\"\nbody_id: from-file\n"), 0o644))

	cfg, err := Load(
		[]string{"--config", path, "demo"},
		fakeEnv(map[string]string{"CYCLER_ADDRESSES": ":2222"}),
	)
	require.NoError(t, err)
	assert.Equal(t, ":2222", cfg.Addresses, "expected env to win over file")
	assert.Equal(t, "from-file", cfg.BodyID, "expected file value to survive when env doesn't set it")

	cfg, err = Load(
		[]string{"--config", path, "--addresses", ":3333", "demo"},
		fakeEnv(map[string]string{"CYCLER_ADDRESSES": ":2222"}),
	)
	require.NoError(t, err)
	assert.Equal(t, ":3333", cfg.Addresses, "expected flag to win over env and file")
}

func TestLoadCollectsRepeatedRecordFlags(t *testing.T) {
	cfg, err := Load([]string{"--record", "Clock.main", "--record", "Control.main", "demo"}, fakeEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"Clock.main", "Control.main"}, cfg.RecordInstances)
}
