package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/warden/pkg/observability"
)

// purgeTimeout bounds a single retention run
const purgeTimeout = 5 * time.Minute

// RetentionJob removes audit events that fall outside the retention policy
type RetentionJob struct {
	store   Store
	policy  RetentionPolicy
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewRetentionJob creates a retention job. metrics may be nil.
func NewRetentionJob(store Store, policy RetentionPolicy, metrics *observability.Metrics, logger *observability.Logger) *RetentionJob {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &RetentionJob{
		store:   store,
		policy:  policy,
		metrics: metrics,
		logger:  logger.WithField("job", "audit-retention"),
	}
}

// Run purges once and returns how many events were removed
func (j *RetentionJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	removed, err := j.store.Cleanup(ctx, j.policy)
	if err != nil {
		return 0, fmt.Errorf("audit purge failed: %w", err)
	}

	j.metrics.RecordAuditPurge(removed)
	j.logger.WithFields(map[string]interface{}{
		"removed":        removed,
		"retention_days": j.policy.RetentionDays,
		"duration_ms":    time.Since(start).Milliseconds(),
	}).Info("audit retention complete")
	return removed, nil
}

// Schedule registers the job on a cron scheduler with a standard five-field spec
func (j *RetentionJob) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		defer observability.RecoverPanic(j.logger, "audit retention job")

		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()

		if _, err := j.Run(ctx); err != nil {
			j.logger.WithError(err).Error("scheduled audit purge failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("failed to schedule audit retention %q: %w", spec, err)
	}
	return id, nil
}
