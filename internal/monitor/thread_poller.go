// Package monitor holds the background observers: the thread-count poller
// that samples javaee agents and the stats publisher that reports the
// notifier's own health.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/apm-notifier/internal/classify"
	"github.com/t77yq/apm-notifier/internal/config"
	"github.com/t77yq/apm-notifier/internal/model"
	"github.com/t77yq/apm-notifier/internal/registry"
)

const pollSpec = "@every 5s"

// ThreadCounter requests the live thread count from an agent.
type ThreadCounter interface {
	ThreadCount(ctx context.Context, objectID int64) (int, error)
}

// TrackedSource lists the object ids worth polling.
type TrackedSource interface {
	TrackedObjects() []int64
}

// cronLogger adapts zap.Logger to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// ThreadPoller periodically samples the thread count of every tracked
// javaee object and raises a WARN alert when a configured ceiling is
// crossed. A zero ceiling disables the poller entirely.
type ThreadPoller struct {
	logger  *zap.Logger
	cfg     *config.Config
	tracked TrackedSource
	agents  *registry.Registry
	counter ThreadCounter
	alerter classify.Alerter
	cron    *cron.Cron
}

// NewThreadPoller builds a poller. Start must be called to begin sampling.
func NewThreadPoller(logger *zap.Logger, cfg *config.Config, tracked TrackedSource, agents *registry.Registry, counter ThreadCounter, alerter classify.Alerter) *ThreadPoller {
	named := logger.Named("thread-poller")
	c := cron.New(cron.WithChain(cron.Recover(&cronLogger{logger: named.Named("cron")})))
	return &ThreadPoller{
		logger:  named,
		cfg:     cfg,
		tracked: tracked,
		agents:  agents,
		counter: counter,
		alerter: alerter,
		cron:    c,
	}
}

// Start schedules the poll loop.
func (p *ThreadPoller) Start(ctx context.Context) error {
	if _, err := p.cron.AddFunc(pollSpec, func() { p.Poll(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule thread poll: %w", err)
	}
	p.cron.Start()
	p.logger.Info("Thread poller started", zap.String("schedule", pollSpec))
	return nil
}

// Stop halts the schedule and waits for an in-flight poll to finish.
func (p *ThreadPoller) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

// Poll samples every tracked object once.
func (p *ThreadPoller) Poll(ctx context.Context) {
	if p.cfg.Int64(config.KeyThreadCount, "", 0) == 0 {
		return
	}

	for _, id := range p.tracked.TrackedObjects() {
		agent, ok := p.agents.Get(id)
		if !ok || !agent.Alive {
			continue
		}

		threshold := p.cfg.Int64(config.KeyThreadCount, agent.Type, 0)
		if threshold == 0 {
			continue
		}

		count, err := p.counter.ThreadCount(ctx, id)
		if err != nil {
			p.logger.Warn("Thread count request failed",
				zap.Int64("object_id", id),
				zap.String("object_name", agent.Name),
				zap.Error(err))
			continue
		}

		if int64(count) <= threshold {
			continue
		}

		p.alerter.Dispatch(ctx, &model.Alert{
			Level:      model.LevelWarn,
			ObjectID:   id,
			ObjectName: agent.Name,
			ObjectType: agent.Type,
			Title:      "Thread count exceed a threshold.",
			Message:    fmt.Sprintf("%s's Thread count(%d) exceed a threshold.", agent.Name, count),
			Time:       time.Now(),
		})
	}
}
