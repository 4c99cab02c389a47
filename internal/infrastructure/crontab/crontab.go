package crontab

import (
	"context"
	"fmt"
	"time"

	"github.com/mileusna/crontab"
	"github.com/rs/zerolog/log"

	"github.com/recallstack/recall-server/internal/domain/engine"
)

const (
	DefaultSweepIntervalMinutes = 5
	CronJobTimeout              = 10 * time.Minute
)

// Config enables the background jobs individually so operators can run sweep
// and backfill on a single instance of a fleet.
type Config struct {
	SweepEnabled         bool
	SweepIntervalMinutes int
	BackfillEnabled      bool
}

// Crontab schedules the tier sweep and the embedding backfill.
type Crontab struct {
	ctab   *crontab.Crontab
	engine *engine.Engine
	cfg    Config
}

func NewCrontab(eng *engine.Engine, cfg Config) *Crontab {
	return &Crontab{
		ctab:   crontab.New(),
		engine: eng,
		cfg:    cfg,
	}
}

// Run registers the jobs and blocks until ctx is done.
func (c *Crontab) Run(ctx context.Context) error {
	if c.cfg.SweepEnabled {
		interval := c.cfg.SweepIntervalMinutes
		if interval <= 0 {
			interval = DefaultSweepIntervalMinutes
		}

		cronExpr := fmt.Sprintf("*/%d * * * *", interval)
		if err := c.ctab.AddJob(cronExpr, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), CronJobTimeout)
			defer cancel()
			if err := c.engine.Sweep(jobCtx); err != nil {
				log.Error().Err(err).Msg("tier sweep failed")
			}
		}); err != nil {
			return fmt.Errorf("add tier sweep job: %w", err)
		}
		log.Info().Msgf("Tier sweep scheduled: every %d minute(s)", interval)
	}

	if c.cfg.BackfillEnabled {
		if err := c.ctab.AddJob("* * * * *", func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), CronJobTimeout)
			defer cancel()
			if err := c.engine.BackfillEmbeddings(jobCtx); err != nil {
				log.Error().Err(err).Msg("embedding backfill failed")
			}
		}); err != nil {
			return fmt.Errorf("add embedding backfill job: %w", err)
		}
		log.Info().Msg("Embedding backfill scheduled: every minute")
	}

	<-ctx.Done()
	c.ctab.Shutdown()
	return nil
}
