package monitor

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/apm-notifier/internal/config"
	"github.com/t77yq/apm-notifier/internal/model"
	"github.com/t77yq/apm-notifier/internal/registry"
)

type staticTracked []int64

func (s staticTracked) TrackedObjects() []int64 { return s }

type staticCounter map[int64]int

func (s staticCounter) ThreadCount(ctx context.Context, id int64) (int, error) {
	count, ok := s[id]
	if !ok {
		return 0, errors.New("agent unreachable")
	}
	return count, nil
}

type recordAlerter struct {
	alerts []*model.Alert
}

func (r *recordAlerter) Dispatch(ctx context.Context, a *model.Alert) {
	r.alerts = append(r.alerts, a)
}

func pollerConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yaml)))
	return config.New(v)
}

func TestThreadPoller_AlertsAboveThreshold(t *testing.T) {
	agents := registry.New()
	agents.Upsert(&registry.Agent{ID: 1, Name: "/host/app1", Type: "tomcat", Alive: true})

	alerter := &recordAlerter{}
	cfg := pollerConfig(t, "thresholds:\n  thread_count: 300\n")
	p := NewThreadPoller(zap.NewNop(), cfg, staticTracked{1}, agents, staticCounter{1: 512}, alerter)

	p.Poll(context.Background())

	require.Len(t, alerter.alerts, 1)
	a := alerter.alerts[0]
	require.Equal(t, model.LevelWarn, a.Level)
	require.Equal(t, "Thread count exceed a threshold.", a.Title)
	require.Equal(t, "/host/app1's Thread count(512) exceed a threshold.", a.Message)
	require.Equal(t, "tomcat", a.ObjectType)
}

func TestThreadPoller_BelowThresholdSilent(t *testing.T) {
	agents := registry.New()
	agents.Upsert(&registry.Agent{ID: 1, Name: "/host/app1", Type: "tomcat", Alive: true})

	alerter := &recordAlerter{}
	cfg := pollerConfig(t, "thresholds:\n  thread_count: 300\n")
	p := NewThreadPoller(zap.NewNop(), cfg, staticTracked{1}, agents, staticCounter{1: 300}, alerter)

	p.Poll(context.Background())
	require.Empty(t, alerter.alerts)
}

func TestThreadPoller_ZeroThresholdDisabled(t *testing.T) {
	agents := registry.New()
	agents.Upsert(&registry.Agent{ID: 1, Name: "/host/app1", Type: "tomcat", Alive: true})

	alerter := &recordAlerter{}
	p := NewThreadPoller(zap.NewNop(), pollerConfig(t, ""), staticTracked{1}, agents, staticCounter{1: 9999}, alerter)

	p.Poll(context.Background())
	require.Empty(t, alerter.alerts)
}

func TestThreadPoller_SkipsDeadAndUnknownAgents(t *testing.T) {
	agents := registry.New()
	agents.Upsert(&registry.Agent{ID: 1, Name: "/host/app1", Type: "tomcat", Alive: false})

	alerter := &recordAlerter{}
	cfg := pollerConfig(t, "thresholds:\n  thread_count: 300\n")
	p := NewThreadPoller(zap.NewNop(), cfg, staticTracked{1, 2}, agents, staticCounter{1: 500, 2: 500}, alerter)

	p.Poll(context.Background())
	require.Empty(t, alerter.alerts)
}

func TestThreadPoller_ScopedThresholdOverride(t *testing.T) {
	agents := registry.New()
	agents.Upsert(&registry.Agent{ID: 1, Name: "/host/app1", Type: "tomcat", Alive: true})
	agents.Upsert(&registry.Agent{ID: 2, Name: "/host/batch1", Type: "batch", Alive: true})

	alerter := &recordAlerter{}
	cfg := pollerConfig(t, `
thresholds:
  thread_count: 300
object_types:
  batch:
    thresholds:
      thread_count: 1000
`)
	p := NewThreadPoller(zap.NewNop(), cfg, staticTracked{1, 2}, agents, staticCounter{1: 400, 2: 400}, alerter)

	p.Poll(context.Background())

	require.Len(t, alerter.alerts, 1)
	require.Equal(t, int64(1), alerter.alerts[0].ObjectID)
}

func TestThreadPoller_CountErrorSkipsObject(t *testing.T) {
	agents := registry.New()
	agents.Upsert(&registry.Agent{ID: 1, Name: "/host/app1", Type: "tomcat", Alive: true})
	agents.Upsert(&registry.Agent{ID: 2, Name: "/host/app2", Type: "tomcat", Alive: true})

	alerter := &recordAlerter{}
	cfg := pollerConfig(t, "thresholds:\n  thread_count: 300\n")
	p := NewThreadPoller(zap.NewNop(), cfg, staticTracked{1, 2}, agents, staticCounter{2: 400}, alerter)

	p.Poll(context.Background())

	require.Len(t, alerter.alerts, 1)
	require.Equal(t, int64(2), alerter.alerts[0].ObjectID)
}
