// Package jobs contains background workers that run on a schedule. The
// retention job sweeps entries older than the configured horizon out of the
// audit log. Sweeps are idempotent: re-running after a crash deletes nothing
// extra and records nothing extra.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/changetrail/changetrail/internal/db/models"
	"github.com/changetrail/changetrail/internal/db/repositories"
	"github.com/changetrail/changetrail/internal/recorder"
	"github.com/changetrail/changetrail/internal/telemetry"
)

// Trigger values distinguish scheduled sweeps from admin-initiated ones in
// metrics and in the recorded cleanup entry.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// RetentionJob periodically deletes audit entries older than the retention
// horizon. Every sweep that actually removed rows leaves exactly one
// "cleanup" entry in the log itself, so the trail accounts for its own
// truncation.
type RetentionJob struct {
	repo     *repositories.LogRepository
	recorder *recorder.Recorder
	days     int
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewRetentionJob(repo *repositories.LogRepository, rec *recorder.Recorder, days int, interval time.Duration) *RetentionJob {
	return &RetentionJob{
		repo:     repo,
		recorder: rec,
		days:     days,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep. The first sweep runs immediately so a
// process that was down past its horizon catches up on boot rather than
// waiting a full interval.
func (j *RetentionJob) Start(ctx context.Context) {
	slog.Info("starting retention job", "days", j.days, "interval", j.interval)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.sweep(ctx)

		for {
			select {
			case <-ticker.C:
				j.sweep(ctx)
			case <-j.stopCh:
				slog.Info("retention job stopped")
				return
			case <-ctx.Done():
				slog.Info("retention job context cancelled")
				return
			}
		}
	}()
}

// Stop halts the periodic sweep and waits for an in-flight one to finish.
func (j *RetentionJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
}

func (j *RetentionJob) sweep(ctx context.Context) {
	if _, err := j.RunOnce(ctx, nil, TriggerScheduled); err != nil {
		slog.Error("retention sweep failed", "error", err)
	}
}

// RunOnce performs a single sweep: delete everything older than the horizon,
// then record one cleanup entry when rows were actually removed. A sweep that
// finds nothing to delete leaves no trace. actor is nil for scheduled sweeps
// and names the admin for manual ones.
func (j *RetentionJob) RunOnce(ctx context.Context, actor *models.Actor, trigger string) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -j.days)

	deleted, err := j.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting entries older than %s: %w", cutoff.Format("2006-01-02"), err)
	}
	if deleted == 0 {
		return 0, nil
	}

	telemetry.CleanupDeletedTotal.WithLabelValues(trigger).Add(float64(deleted))
	slog.Info("retention sweep deleted entries", "deleted", deleted, "days", j.days, "trigger", trigger)

	j.recorder.RecordSystem(ctx, actor, nil, recorder.Event{
		ActionType:  "cleanup",
		ObjectType:  "log",
		ObjectName:  "Log Cleanup",
		Description: fmt.Sprintf("Deleted %d log entries older than %d days", deleted, j.days),
	})
	return deleted, nil
}
