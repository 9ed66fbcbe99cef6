package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tentd/internal/config"
	"github.com/dokzlo13/tentd/internal/ledger"
)

// LedgerCleanup periodically drops ledger entries past the retention period.
type LedgerCleanup struct {
	ledger    *ledger.Ledger
	retention time.Duration
	interval  time.Duration
}

// NewLedgerCleanup creates the cleanup worker. A zero retention disables it.
func NewLedgerCleanup(cfg *config.Config, l *ledger.Ledger) *LedgerCleanup {
	return &LedgerCleanup{
		ledger:    l,
		retention: time.Duration(cfg.Ledger.RetentionDays) * 24 * time.Hour,
		interval:  cfg.Ledger.CleanupInterval.Duration(),
	}
}

// Start runs one cleanup immediately and then every interval until ctx is done.
func (c *LedgerCleanup) Start(ctx context.Context) {
	if c.retention <= 0 || c.interval <= 0 {
		log.Info().Msg("Ledger cleanup is disabled")
		return
	}
	go c.run(ctx)
}

func (c *LedgerCleanup) run(ctx context.Context) {
	c.cleanup(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *LedgerCleanup) cleanup(ctx context.Context) {
	deleted, err := c.ledger.DeleteOlderThan(ctx, c.retention)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
		}
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", c.retention).Msg("Cleaned up old ledger entries")
	}
}
