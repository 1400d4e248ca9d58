package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

// SweeperConfig drives the idle sweeper: on the cron schedule, online
// users quiet for longer than AwayAfter are downgraded to away.
type SweeperConfig struct {
	Enabled   bool
	Cron      string
	AwayAfter time.Duration
}

// StartSweeper launches the idle sweep scheduler. notify is called once
// per downgraded user with the updated entry so the caller can broadcast
// it. The returned cancel func stops the scheduler.
func StartSweeper(ctx context.Context, r *Registry, cfg SweeperConfig, notify func(models.PresenceEntry)) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("presence_sweeper_disabled")
		return func() {}, nil
	}
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "* * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid presence sweep cron: %q", cronExpr)
	}
	away := cfg.AwayAfter
	if away <= 0 {
		away = 10 * time.Minute
	}

	cctx, cancel := context.WithCancel(ctx)
	go runSweeper(cctx, r, cronExpr, away, notify)
	logger.Info("presence_sweeper_started", "cron", cronExpr, "away_after", away.String())
	return cancel, nil
}

// runSweeper computes the next cron tick with gronx and sleeps until it,
// mirroring full cron syntax rather than a fixed ticker.
func runSweeper(ctx context.Context, r *Registry, cronExpr string, away time.Duration, notify func(models.PresenceEntry)) {
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("presence_sweep_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("presence_sweeper_stopping")
			return
		}
		sweepOnce(r, away, notify)
	}
}

func sweepOnce(r *Registry, away time.Duration, notify func(models.PresenceEntry)) {
	cutoff := time.Now().Add(-away)
	for _, userID := range r.idleUsers(cutoff) {
		entry, ok := r.SetStatus(userID, models.StatusAway)
		if !ok {
			continue
		}
		logger.Debug("presence_idle_downgrade", "user", userID)
		if notify != nil {
			notify(entry)
		}
	}
}
