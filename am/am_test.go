package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoad_Defaults(t *testing.T) {
	// Isolated viper instance without user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, "", cfg.Migration.Timezone)
	assert.True(t, cfg.Migration.RunAtUpgrade)
	assert.Equal(t, 1, cfg.Pulse.TickerIntervalSeconds)
	assert.Equal(t, 100, cfg.Pulse.DueBatchLimit)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	content := `
[database]
path = "/var/lib/qntx/migrate.db"

[migration]
timezone = "Europe/Amsterdam"
run_at_upgrade = false

[pulse]
ticker_interval_seconds = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/qntx/migrate.db", cfg.Database.Path)
	assert.Equal(t, "Europe/Amsterdam", cfg.Migration.Timezone)
	assert.False(t, cfg.Migration.RunAtUpgrade)
	assert.Equal(t, 5, cfg.Pulse.TickerIntervalSeconds)
	// unset keys keep their defaults
	assert.Equal(t, 100, cfg.Pulse.DueBatchLimit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"zero ticker interval disables ticking", Config{Pulse: PulseConfig{TickerIntervalSeconds: 0}}, false},
		{"negative ticker interval", Config{Pulse: PulseConfig{TickerIntervalSeconds: -1}}, true},
		{"negative batch limit", Config{Pulse: PulseConfig{DueBatchLimit: -5}}, true},
		{"negative fire rate", Config{Pulse: PulseConfig{MaxFiresPerMinute: -1}}, true},
		{"negative history retention", Config{Pulse: PulseConfig{HistoryRetentionDays: -1}}, true},
		{"known timezone", Config{Migration: MigrationConfig{Timezone: "Asia/Tokyo"}}, false},
		{"abbreviated timezone", Config{Migration: MigrationConfig{Timezone: "PST"}}, false},
		{"unknown timezone", Config{Migration: MigrationConfig{Timezone: "Atlantis/Capital"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMergeConfigFilesPrecedence(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	dir := t.TempDir()
	system := filepath.Join(dir, "system.toml")
	user := filepath.Join(dir, "user.toml")
	require.NoError(t, os.WriteFile(system, []byte("[migration]\ntimezone = \"UTC\"\n[pulse]\ndue_batch_limit = 7\n"), 0644))
	require.NoError(t, os.WriteFile(user, []byte("[migration]\ntimezone = \"Europe/Berlin\"\n"), 0644))

	v := viper.New()
	SetDefaults(v)
	mergeConfigFiles(v, []configPath{
		{system, SourceSystem},
		{user, SourceUser},
		{filepath.Join(dir, "missing.toml"), SourceProject},
	})

	assert.Equal(t, "Europe/Berlin", v.GetString("migration.timezone"))
	assert.Equal(t, 7, v.GetInt("pulse.due_batch_limit"))
	assert.Equal(t, SourceUser, ConfigSources["migration.timezone"].Source)
	assert.Equal(t, SourceSystem, ConfigSources["pulse.due_batch_limit"].Source)
}

func TestGetDatabasePath_EnvOverride(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/override.db")
	path, err := GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", path)
}

func TestSetValueInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")

	require.NoError(t, SetValueInFile(path, "migration.timezone", "Europe/Amsterdam"))
	require.NoError(t, SetValueInFile(path, "pulse.ticker_interval_seconds", "3"))
	require.NoError(t, SetValueInFile(path, "migration.run_at_upgrade", "false"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var parsed map[string]map[string]interface{}
	require.NoError(t, toml.Unmarshal(data, &parsed))
	assert.Equal(t, "Europe/Amsterdam", parsed["migration"]["timezone"])
	assert.Equal(t, int64(3), parsed["pulse"]["ticker_interval_seconds"])
	assert.Equal(t, false, parsed["migration"]["run_at_upgrade"])

	// every write after the first rotates a backup
	_, err = os.Stat(path + ".back1")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".back2")
	assert.NoError(t, err)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pulse.TickerIntervalSeconds)
}

func TestSetValueInFile_InvalidKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	assert.Error(t, SetValueInFile(path, "migration..timezone", "UTC"))
	assert.Error(t, SetValueInFile(path, "", "UTC"))
}

func TestCreateBackupRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")

	for _, content := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, createBackup(path))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	read := func(p string) string {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, "e", read(path))
	assert.Equal(t, "d", read(path+".back1"))
	assert.Equal(t, "c", read(path+".back2"))
	assert.Equal(t, "b", read(path+".back3"))
}

func TestIsBackupFile(t *testing.T) {
	assert.True(t, isBackupFile("/home/u/.qntx/am.toml.back1"))
	assert.True(t, isBackupFile("am.toml.back3"))
	assert.False(t, isBackupFile("am.toml"))
	assert.False(t, isBackupFile("am.toml.backup"))
}

func TestConfigWatcherOwnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	cw, err := NewConfigWatcher(path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer cw.Stop()

	assert.False(t, cw.checkOwnWrite())
	cw.MarkOwnWrite()
	assert.True(t, cw.checkOwnWrite())
	// flag is consumed
	assert.False(t, cw.checkOwnWrite())
}

func TestConfigWatcherReloadCallbacks(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("QNTX_MIGRATION_TIMEZONE", "Asia/Tokyo")

	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	cw, err := NewConfigWatcher(path, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer cw.Stop()
	cw.debouncePeriod = 10 * time.Millisecond

	got := make(chan string, 1)
	cw.OnReload(func(cfg *Config) error {
		got <- cfg.Migration.Timezone
		return nil
	})
	cw.Start()

	require.NoError(t, os.WriteFile(path, []byte("# touched\n"), 0644))

	select {
	case tz := <-got:
		assert.Equal(t, "Asia/Tokyo", tz)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback was not invoked")
	}
}
