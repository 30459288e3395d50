package event

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/apm-notifier/internal/classify"
	"github.com/t77yq/apm-notifier/internal/config"
	"github.com/t77yq/apm-notifier/internal/model"
	"github.com/t77yq/apm-notifier/internal/registry"
	"github.com/t77yq/apm-notifier/internal/storage"
	"github.com/t77yq/apm-notifier/internal/testutil"
)

type captureAlerter struct {
	mu     sync.Mutex
	alerts []*model.Alert
}

func (c *captureAlerter) Dispatch(ctx context.Context, a *model.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
}

func (c *captureAlerter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

func (c *captureAlerter) first() *model.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.alerts) == 0 {
		return nil
	}
	return c.alerts[0]
}

func newTestConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yaml)))
	return config.New(v)
}

func TestSubscriber_ObjectEventFlow(t *testing.T) {
	nc, cleanup := testutil.StartNATS(t)
	defer cleanup()

	logger := zap.NewNop()
	agents := registry.New()
	alerter := &captureAlerter{}
	cfg := newTestConfig(t, "object:\n  alert_enabled: true\n")
	classifier := classify.New(logger, cfg, agents, NewTextClient(nc), alerter)

	sub := NewSubscriber(logger, nc, classifier, agents)
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Stop()

	data, err := json.Marshal(model.ObjectEvent{
		ObjectID: 1, ObjectName: "/host/app1", ObjectType: "tomcat", Version: "2.20.0",
	})
	require.NoError(t, err)
	require.NoError(t, nc.Publish(SubjectObject, data))

	require.Eventually(t, func() bool { return alerter.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, model.KindConnected, alerter.first().Kind)

	// The registry was updated after classification.
	require.Eventually(t, func() bool {
		a, ok := agents.Get(1)
		return ok && a.Alive && a.Name == "/host/app1"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSubscriber_InactiveAlertMarksAgentDead(t *testing.T) {
	nc, cleanup := testutil.StartNATS(t)
	defer cleanup()

	logger := zap.NewNop()
	agents := registry.New()
	agents.Upsert(&registry.Agent{ID: 7, Name: "/host/app7", Type: "tomcat", Alive: true})
	alerter := &captureAlerter{}
	classifier := classify.New(logger, newTestConfig(t, ""), agents, NewTextClient(nc), alerter)

	sub := NewSubscriber(logger, nc, classifier, agents)
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Stop()

	data, err := json.Marshal(model.AlertEvent{
		Level: model.LevelWarn, ObjectID: 7, ObjectName: "/host/app7", ObjectType: "tomcat",
		Title: "INACTIVE_OBJECT", Message: "/host/app7 is inactivated. INACTIVE_OBJECT",
	})
	require.NoError(t, err)
	require.NoError(t, nc.Publish(SubjectAlert, data))

	require.Eventually(t, func() bool { return alerter.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	a, ok := agents.Get(7)
	require.True(t, ok)
	require.False(t, a.Alive)
}

func TestSubscriber_MalformedPayloadSkipped(t *testing.T) {
	nc, cleanup := testutil.StartNATS(t)
	defer cleanup()

	logger := zap.NewNop()
	agents := registry.New()
	alerter := &captureAlerter{}
	classifier := classify.New(logger, newTestConfig(t, ""), agents, NewTextClient(nc), alerter)

	sub := NewSubscriber(logger, nc, classifier, agents)
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Stop()

	require.NoError(t, nc.Publish(SubjectAlert, []byte("not json")))

	good, err := json.Marshal(model.AlertEvent{Level: model.LevelError, ObjectID: 1, Title: "t"})
	require.NoError(t, err)
	require.NoError(t, nc.Publish(SubjectAlert, good))

	require.Eventually(t, func() bool { return alerter.count() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestTextClient_Lookup(t *testing.T) {
	nc, cleanup := testutil.StartNATS(t)
	defer cleanup()

	_, err := nc.Subscribe(SubjectTextService, func(msg *nats.Msg) {
		var req textRequest
		require.NoError(t, json.Unmarshal(msg.Data, &req))
		resp, _ := json.Marshal(textResponse{Text: "/order/checkout"})
		msg.Respond(resp)
	})
	require.NoError(t, err)

	client := NewTextClient(nc)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	name, err := client.ServiceName(ctx, "20260828", 100)
	require.NoError(t, err)
	require.Equal(t, "/order/checkout", name)
}

func TestAgentClient_ThreadCount(t *testing.T) {
	nc, cleanup := testutil.StartNATS(t)
	defer cleanup()

	_, err := nc.Subscribe(SubjectAgentThreads, func(msg *nats.Msg) {
		resp, _ := json.Marshal(threadResponse{Count: 321})
		msg.Respond(resp)
	})
	require.NoError(t, err)

	client := NewAgentClient(nc)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	count, err := client.ThreadCount(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, 321, count)
}

type fakeHistory struct {
	records []*storage.DeliveryRecord
	err     error
	gotTop  int
}

func (f *fakeHistory) Store(ctx context.Context, rec *storage.DeliveryRecord) error { return nil }

func (f *fakeHistory) List(ctx context.Context, limit int) ([]*storage.DeliveryRecord, error) {
	f.gotTop = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeHistory) DeleteBefore(ctx context.Context, before time.Time) error { return nil }
func (f *fakeHistory) Close() error                                             { return nil }

func TestHistoryServer_AnswersQueries(t *testing.T) {
	nc, cleanup := testutil.StartNATS(t)
	defer cleanup()

	history := &fakeHistory{records: []*storage.DeliveryRecord{
		{ID: "1", ObjectID: 7, Title: "GC time exceed a threshold.", Status: storage.StatusDelivered},
		{ID: "2", ObjectID: 8, Title: "xlog Error", Status: storage.StatusFailed},
	}}
	srv := NewHistoryServer(zap.NewNop(), nc, history)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()

	req, err := json.Marshal(historyRequest{Limit: 10})
	require.NoError(t, err)
	msg, err := nc.Request(SubjectHistory, req, 3*time.Second)
	require.NoError(t, err)

	var resp historyResponse
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	require.Empty(t, resp.Error)
	require.Len(t, resp.Records, 2)
	require.Equal(t, "GC time exceed a threshold.", resp.Records[0].Title)
	require.Equal(t, 10, history.gotTop)
}

func TestHistoryServer_EmptyRequestUsesDefaultLimit(t *testing.T) {
	nc, cleanup := testutil.StartNATS(t)
	defer cleanup()

	history := &fakeHistory{}
	srv := NewHistoryServer(zap.NewNop(), nc, history)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()

	msg, err := nc.Request(SubjectHistory, nil, 3*time.Second)
	require.NoError(t, err)

	var resp historyResponse
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	require.Empty(t, resp.Error)
	require.Equal(t, defaultHistoryLimit, history.gotTop)
}

func TestHistoryServer_ListFailureReturnsError(t *testing.T) {
	nc, cleanup := testutil.StartNATS(t)
	defer cleanup()

	history := &fakeHistory{err: errors.New("db locked")}
	srv := NewHistoryServer(zap.NewNop(), nc, history)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()

	msg, err := nc.Request(SubjectHistory, []byte(`{"limit":5}`), 3*time.Second)
	require.NoError(t, err)

	var resp historyResponse
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	require.Equal(t, "history unavailable", resp.Error)
	require.Empty(t, resp.Records)
}

func TestTextClient_NoResponderIsError(t *testing.T) {
	nc, cleanup := testutil.StartNATS(t)
	defer cleanup()

	client := NewTextClient(nc)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := client.ServiceName(ctx, "20260828", 100)
	require.Error(t, err)
}
