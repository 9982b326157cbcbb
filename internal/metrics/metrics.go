package metrics

import (
	"context"

	"codeberg.org/mutker/socgovd/internal/errors"
	"codeberg.org/mutker/socgovd/internal/logger"
)

// sqliteCollector forwards snapshots to a batching repository.
type sqliteCollector struct {
	repo Repository
	log  logger.Logger
}

type noopCollector struct{}

// NewService returns a sqlite backed collector, or a no-op collector when
// cfg.Enabled is false.
func NewService(cfg Config) (Collector, error) {
	log := logger.New("metrics")

	if err := cfg.Validate(); err != nil {
		return nil, errors.New().Wrap(ErrInvalidConfig, err)
	}
	if !cfg.Enabled {
		log.Debug().Msg("Telemetry history disabled")
		return noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &sqliteCollector{repo: repo, log: log}, nil
}

// NewServiceOrNoop is NewService for callers that must keep running: any
// failure is logged and history is disabled.
func NewServiceOrNoop(cfg Config) Collector {
	c, err := NewService(cfg)
	if err == nil {
		return c
	}

	logger.New("metrics").Warn().
		Err(err).
		Str("path", cfg.DBPath).
		Msg("Telemetry history unavailable, continuing without it")

	return noopCollector{}
}

// Record queues one row. It never blocks on the database beyond a batch
// flush, and a cancelled ctx drops the row.
func (c *sqliteCollector) Record(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return errors.New().New(ErrInvalidMetrics)
	}
	if err := ctx.Err(); err != nil {
		return errors.New().Wrap(ErrOperationTimeout, err)
	}

	if err := c.repo.Record(snapshot); err != nil {
		return errors.New().Wrap(ErrMetricsCollection, err)
	}

	return nil
}

func (c *sqliteCollector) Close() error {
	if err := c.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	return nil
}

func (noopCollector) Record(context.Context, *Snapshot) error { return nil }

func (noopCollector) Close() error { return nil }
