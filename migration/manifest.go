package migration

import (
	"context"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/teranos/qntx-migrate/errors"
	"github.com/teranos/qntx-migrate/logger"
)

// Manifest is a data file of migration definitions, loaded with `qntx-migrate load`.
//
//	[[migration]]
//	name = "Rebuild statistics"
//	model = "sqlite"
//	function = "analyze"
//	running_method = "timer"
//	scheduled_at = "2026-11-01 03:00:00"
type Manifest struct {
	Migrations []ManifestEntry `toml:"migration"`
}

// ManifestEntry is one migration definition in a manifest
type ManifestEntry struct {
	Name          string `toml:"name"`
	Description   string `toml:"description"`
	Model         string `toml:"model"`
	Function      string `toml:"function"`
	RunningMethod string `toml:"running_method"`
	ScheduledAt   string `toml:"scheduled_at"` // Server timezone unless AlreadyUTC or an explicit offset
	AlreadyUTC    bool   `toml:"already_utc"`
}

// LoadManifest reads a manifest file. Unknown keys are rejected.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	meta, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to read manifest %s", path), errors.ErrValidation)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.NewValidationError("manifest %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return &m, nil
}

// ApplyReport lists what Apply did, by migration name
type ApplyReport struct {
	Created []*Job
	Skipped []string // Already present
}

// Apply creates the manifest's migrations in order. Entries whose name already exists
// are skipped, so applying the same manifest twice is harmless. Stops at the first
// invalid entry; entries before it stay created.
func (s *Service) Apply(ctx context.Context, m *Manifest) (ApplyReport, error) {
	var report ApplyReport

	for i, entry := range m.Migrations {
		existing, err := s.store.FindByName(ctx, strings.TrimSpace(entry.Name))
		if err != nil && !errors.IsNotFoundError(err) {
			return report, err
		}
		if existing != nil {
			report.Skipped = append(report.Skipped, existing.Name)
			continue
		}

		req, err := s.entryRequest(entry)
		if err != nil {
			return report, errors.Wrapf(err, "manifest entry %d (%s)", i+1, entry.Name)
		}
		job, err := s.Create(ctx, req)
		if err != nil {
			return report, errors.Wrapf(err, "manifest entry %d (%s)", i+1, entry.Name)
		}
		report.Created = append(report.Created, job)
	}

	s.logger.Infow("Manifest applied",
		logger.FieldCount, len(m.Migrations),
		"created", len(report.Created),
		"skipped", len(report.Skipped))
	return report, nil
}

func (s *Service) entryRequest(entry ManifestEntry) (CreateRequest, error) {
	req := CreateRequest{
		Name:           entry.Name,
		Description:    entry.Description,
		TargetModel:    entry.Model,
		TargetFunction: entry.Function,
		AlreadyUTC:     entry.AlreadyUTC,
	}
	if entry.RunningMethod != "" {
		method, err := ParseRunningMethod(entry.RunningMethod)
		if err != nil {
			return req, err
		}
		req.RunningMethod = method
	}
	if entry.ScheduledAt != "" {
		t, err := s.normalizer.ParseLocal(entry.ScheduledAt, entry.AlreadyUTC)
		if err != nil {
			return req, err
		}
		// ParseLocal already produced UTC
		req.ScheduledAt = &t
		req.AlreadyUTC = true
	}
	return req, nil
}
