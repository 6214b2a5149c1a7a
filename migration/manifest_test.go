package migration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qntx-migrate/errors"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrations.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const testManifest = `
[[migration]]
name = "fix partner names"
description = "Normalise capitalisation"
model = "res.partner"
function = "fix_names"

[[migration]]
name = "merge duplicates"
model = "res.partner"
function = "merge_duplicates"
running_method = "cron_job"
scheduled_at = "2026-11-01 03:00:00"

[[migration]]
name = "utc entry"
model = "res.partner"
function = "fix_names"
running_method = "timer"
scheduled_at = "2026-11-01 03:00:00"
already_utc = true
`

func TestLoadManifestAndApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := LoadManifest(writeManifest(t, testManifest))
	require.NoError(t, err)
	require.Len(t, m.Migrations, 3)

	report, err := f.svc.Apply(ctx, m)
	require.NoError(t, err)
	require.Len(t, report.Created, 3)
	assert.Empty(t, report.Skipped)

	upgrade := report.Created[0]
	assert.Equal(t, RunAtUpgrade, upgrade.RunningMethod)
	assert.Equal(t, "Normalise capitalisation", upgrade.Description)

	// Interpreted in the server timezone (Europe/Amsterdam, CET)
	local := report.Created[1]
	assert.Equal(t, RunTimer, local.RunningMethod)
	assert.Equal(t, time.Date(2026, 11, 1, 2, 0, 0, 0, time.UTC), *local.ScheduledAt)

	utc := report.Created[2]
	assert.Equal(t, time.Date(2026, 11, 1, 3, 0, 0, 0, time.UTC), *utc.ScheduledAt)
	assert.Equal(t, 2, f.sched.count())

	// Applying again skips everything
	report, err = f.svc.Apply(ctx, m)
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	assert.Equal(t, []string{"fix partner names", "merge duplicates", "utc entry"}, report.Skipped)
	assert.Equal(t, 3, f.count(t))
}

func TestLoadManifest_UnknownKeys(t *testing.T) {
	_, err := LoadManifest(writeManifest(t, `
[[migration]]
name = "typo"
modle = "res.partner"
`))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.Contains(t, err.Error(), "modle")
}

func TestLoadManifest_Malformed(t *testing.T) {
	_, err := LoadManifest(writeManifest(t, `[[migration]`))
	assert.True(t, errors.IsValidationError(err))

	_, err = LoadManifest(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestApply_StopsAtInvalidEntry(t *testing.T) {
	f := newFixture(t)
	m := &Manifest{Migrations: []ManifestEntry{
		{Name: "good", Model: testModel, Function: "fix_names"},
		{Name: "bad model", Model: "res.unknown", Function: "fix_names"},
		{Name: "never reached", Model: testModel, Function: "fix_names"},
	}}

	report, err := f.svc.Apply(context.Background(), m)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.Contains(t, err.Error(), "manifest entry 2 (bad model)")
	assert.Len(t, report.Created, 1)
	assert.Equal(t, 1, f.count(t))
}

func TestApply_BadTime(t *testing.T) {
	f := newFixture(t)
	m := &Manifest{Migrations: []ManifestEntry{
		{Name: "t", Model: testModel, Function: "fix_names", RunningMethod: "timer", ScheduledAt: "next tuesday"},
	}}
	_, err := f.svc.Apply(context.Background(), m)
	assert.True(t, errors.IsValidationError(err))
	assert.Zero(t, f.count(t))
}
