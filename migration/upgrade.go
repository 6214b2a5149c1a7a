package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/teranos/qntx-migrate/errors"
	"github.com/teranos/qntx-migrate/logger"
)

// UpgradeReport summarises an upgrade pass
type UpgradeReport struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int   // not dispatched, e.g. changed by another trigger meanwhile
	Err       error // set when the queued migrations could not be listed
	Outcomes  []RunOutcome
}

// OnUpgrade runs every Queued AtUpgrade migration once, in creation order.
// It never fails: individual outcomes are recorded on the migrations and counted
// in the report.
func (s *Service) OnUpgrade(ctx context.Context) UpgradeReport {
	var report UpgradeReport
	log := s.logger.With(logger.FieldOperation, "upgrade")

	jobs, err := s.store.ListQueuedAtUpgrade(ctx)
	if err != nil {
		report.Err = errors.Wrap(err, "failed to list upgrade migrations")
		log.Errorw("Upgrade pass could not start", logger.FieldError, report.Err)
		return report
	}

	log.Infow("Running migrations at upgrade", logger.FieldCount, len(jobs))

	for i, queued := range jobs {
		report.Total++
		log.Infow(fmt.Sprintf("#%d %s", i+1, queued.Name),
			logger.FieldMigrationID, queued.ID,
			"description", queued.Description)

		job, err := s.dispatcher.Run(ctx, queued.ID)
		report.Outcomes = append(report.Outcomes, RunOutcome{ID: queued.ID, Job: job, Err: err})
		switch {
		case err != nil:
			report.Skipped++
			log.Warnw("Migration not dispatched",
				logger.FieldMigrationID, queued.ID,
				logger.FieldError, err)
		case job.Status == StatusDone:
			report.Succeeded++
		default:
			report.Failed++
		}
	}

	log.Infow("Upgrade migrations finished",
		"total", report.Total,
		"success", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped)
	return report
}

// RecoverInterrupted marks migrations left Running by a stopped process as Failed,
// so they can be requeued. Returns how many were recovered.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	running, err := s.store.ListRunning(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list running migrations")
	}

	recovered := 0
	for _, orig := range running {
		job := orig.clone()
		started := "unknown"
		if job.LastRunAt != nil {
			started = job.LastRunAt.Format(time.RFC3339)
		}
		detail := fmt.Sprintf("interrupted: the process stopped while the migration was running (started %s)", started)
		if err := job.transition(StatusFailed, s.now(), detail); err != nil {
			return recovered, err
		}
		if err := s.store.SaveTransition(ctx, job, StatusRunning); err != nil {
			if errors.IsConflictError(err) {
				continue
			}
			return recovered, err
		}
		recovered++
		s.logger.Warnw("Interrupted migration marked failed",
			logger.FieldMigrationID, job.ID,
			"name", job.Name)
	}
	return recovered, nil
}
