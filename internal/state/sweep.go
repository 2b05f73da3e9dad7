package state

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper periodically prunes expired tokens.
// Insertion-time pruning keeps working whether or not a sweeper runs.
type Sweeper struct {
	cron    *cron.Cron
	shared  *Shared
	logger  zerolog.Logger
	onSwept func(removed int)
}

// NewSweeper schedules Shared.Sweep on a cron spec such as "@every 10m"
func NewSweeper(shared *Shared, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	sw := &Sweeper{
		cron:   cron.New(),
		shared: shared,
		logger: logger,
	}

	if _, err := sw.cron.AddFunc(schedule, sw.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return sw, nil
}

func (sw *Sweeper) run() {
	removed, err := sw.shared.Sweep()
	if err != nil {
		sw.logger.Error().Err(err).Msg("token sweep failed")
		return
	}
	sw.logger.Debug().Int("removed", removed).Msg("token sweep finished")
	if sw.onSwept != nil && removed > 0 {
		sw.onSwept(removed)
	}
}

// OnSwept registers fn to be told how many tokens a sweep removed. Call before Start.
func (sw *Sweeper) OnSwept(fn func(removed int)) {
	sw.onSwept = fn
}

// Start runs the schedule in the background
func (sw *Sweeper) Start() {
	sw.cron.Start()
}

// Stop halts the schedule and waits for a running sweep or ctx, whichever ends first
func (sw *Sweeper) Stop(ctx context.Context) error {
	done := sw.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
