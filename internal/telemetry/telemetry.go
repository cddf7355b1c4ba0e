// Package telemetry keeps a durable record of every control loop tick in a
// local SQLite database.
package telemetry

import (
	"context"

	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/hub"
	"codeberg.org/mutker/hubctl/internal/logger"
)

type service struct {
	repo Repository
}

type noopCollector struct{}

// NewService returns a Collector backed by SQLite, or a no-op collector when
// telemetry is disabled.
func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if log == nil {
		log = logger.New("telemetry")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op collector")
		return noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, snap hub.Snapshot) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	if err := s.repo.Record(FromSnapshot(snap)); err != nil {
		return errFactory.Wrap(ErrRecordFailed, err)
	}

	return nil
}

func (s *service) Close() error {
	return s.repo.Close()
}

func (noopCollector) Record(context.Context, hub.Snapshot) error { return nil }

func (noopCollector) Close() error { return nil }
