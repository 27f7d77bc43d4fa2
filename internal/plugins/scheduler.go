package plugins

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/opencode-studio/gateway/internal/logger"
)

// defaultRediscoverySpec re-runs discovery every five minutes: manifest
// files can appear or disappear as users install plugins between server
// restarts.
const defaultRediscoverySpec = "@every 5m"

// Scheduler periodically re-runs a Runner's discovery pass.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
}

// NewScheduler wires a Scheduler with the given cron spec; an empty spec
// uses defaultRediscoverySpec.
func NewScheduler(runner *Runner, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = defaultRediscoverySpec
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Plugins().Error().Interface("panic", r).Msg("plugin rediscovery panicked")
			}
		}()
		runner.RunOnce(context.Background())
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c, runner: runner}, nil
}

// Start runs an immediate discovery pass, then begins the cron schedule.
func (s *Scheduler) Start(ctx context.Context) {
	s.runner.RunOnce(ctx)
	s.cron.Start()
}

// Stop halts the cron schedule, waiting for any in-flight pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
