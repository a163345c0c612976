package cli

import (
	"context"
	"time"

	"trivia-sync-service/internal/app"
	"trivia-sync-service/internal/metrics"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
)

const poolStatsInterval = 15 * time.Second

// startJobs schedules the background housekeeping: reaping lobbies nobody started and,
// with Postgres, exporting connection pool stats.
func startJobs(ctx context.Context, sessions *app.SessionService, db *bun.DB, m *metrics.Metrics, reapEvery, maxAge time.Duration, log logrus.FieldLogger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(reapEvery),
		gocron.NewTask(func() {
			n, err := sessions.ReapStaleLobbies(ctx, maxAge)
			if err != nil {
				log.WithError(err).Warn("reap stale lobbies")
				return
			}
			if n > 0 {
				log.WithField("reaped", n).Info("stale lobbies reaped")
			}
		}),
		gocron.WithName("reap-stale-lobbies"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	if db != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(poolStatsInterval),
			gocron.NewTask(func() {
				m.RecordDBPoolStats(db.DB.Stats())
			}),
			gocron.WithName("db-pool-stats"),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	return sched, nil
}
