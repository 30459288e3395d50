// Package classify turns raw monitoring events into alert records and
// decides whether an alert should be emitted at all. Classifiers never talk
// to the transport; everything terminates at the dispatch entry point.
package classify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/apm-notifier/internal/config"
	"github.com/t77yq/apm-notifier/internal/model"
	"github.com/t77yq/apm-notifier/internal/registry"
)

// Alerter is the dispatch entry point.
type Alerter interface {
	Dispatch(ctx context.Context, a *model.Alert)
}

// AgentSource looks up known agents.
type AgentSource interface {
	Get(id int64) (*registry.Agent, bool)
	Name(id int64) string
}

// TextResolver resolves service and error text ids stored by the server.
// date is the yyyymmdd day the trace ended on.
type TextResolver interface {
	ServiceName(ctx context.Context, date string, id int64) (string, error)
	ErrorText(ctx context.Context, date string, id int64) (string, error)
}

const fallbackObjType = "scouter"

// Classifier holds the per-event-type decision logic.
type Classifier struct {
	logger  *zap.Logger
	cfg     *config.Config
	agents  AgentSource
	texts   TextResolver
	alerter Alerter

	// javaee tracks object ids of the javaee family for the thread-count
	// poller to consume.
	javaee sync.Map // int64 -> struct{}
}

// New builds a classifier.
func New(logger *zap.Logger, cfg *config.Config, agents AgentSource, texts TextResolver, alerter Alerter) *Classifier {
	return &Classifier{
		logger:  logger.Named("classify"),
		cfg:     cfg,
		agents:  agents,
		texts:   texts,
		alerter: alerter,
	}
}

// GenericAlert forwards a server-originated alert record. Hosts that predate
// the structured kind field still mark lifecycle transitions with sentinel
// titles, which are mapped onto kinds here so the dispatcher never has to
// slice message strings.
func (c *Classifier) GenericAlert(ctx context.Context, ev model.AlertEvent) {
	a := &model.Alert{
		Level:      ev.Level,
		ObjectID:   ev.ObjectID,
		ObjectName: ev.ObjectName,
		ObjectType: ev.ObjectType,
		Kind:       ev.Kind,
		Title:      ev.Title,
		Message:    ev.Message,
		Time:       ev.Time,
	}
	if a.Kind == model.KindNone {
		switch ev.Title {
		case "INACTIVE_OBJECT":
			a.Kind = model.KindInactivated
		case "ACTIVATED_OBJECT":
			a.Kind = model.KindActivated
		}
	}
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	c.alerter.Dispatch(ctx, a)
}

// Object handles an object lifecycle record: a first-time connect (no
// registry entry, no wake-up timestamp) or a reconnect of an object marked
// not alive emits an INFO alert. Everything else is silent.
func (c *Classifier) Object(ctx context.Context, ev model.ObjectEvent) {
	if !c.cfg.Bool(config.KeyObjectAlert, "", false) {
		return
	}
	if ev.Version == "" {
		return
	}

	existing, known := c.agents.Get(ev.ObjectID)
	switch {
	case !known && ev.Wakeup == 0:
		objType := ev.ObjectType
		if objType == "" {
			objType = fallbackObjType
		}
		c.alerter.Dispatch(ctx, &model.Alert{
			Level:      model.LevelInfo,
			ObjectID:   ev.ObjectID,
			ObjectName: ev.ObjectName,
			ObjectType: objType,
			Kind:       model.KindConnected,
			Title:      "An object has been activated.",
			Message:    ev.ObjectName + " is connected.",
			Time:       time.Now(),
		})
	case known && !existing.Alive:
		c.alerter.Dispatch(ctx, &model.Alert{
			Level:      model.LevelInfo,
			ObjectID:   ev.ObjectID,
			ObjectName: ev.ObjectName,
			ObjectType: existing.Type,
			Kind:       model.KindReconnected,
			Title:      "An object has been activated.",
			Message:    ev.ObjectName + " is reconnected.",
			Time:       time.Now(),
		})
	}
}

// Trace handles a completed service trace. A non-zero error code emits an
// ERROR alert (gated by the per-name feature-group table); independently, an
// elapsed time over the configured threshold emits a WARN alert. Both may
// fire for the same record.
func (c *Classifier) Trace(ctx context.Context, ev model.TraceEvent) {
	objType := fallbackObjType
	name := ""
	if agent, ok := c.agents.Get(ev.ObjectID); ok {
		objType = agent.Type
		name = agent.Name
	}
	if name == "" {
		name = "N/A"
	}

	if !c.cfg.Bool(config.KeyXlogEnabled, objType, false) {
		return
	}

	date := ev.EndTime.Format("20060102")

	if ev.ErrorCode != 0 {
		service := c.serviceName(ctx, date, ev.ServiceID)
		errText := c.errorText(ctx, date, ev.ErrorCode)

		a := &model.Alert{
			Level:      model.LevelError,
			ObjectID:   ev.ObjectID,
			ObjectName: name,
			ObjectType: objType,
			Title:      "xlog Error",
			Message:    "URL  :  " + service + " \r\n\r\n Error_Message  :  " + errText,
			Time:       time.Now(),
		}

		group := c.cfg.ServerGroup(name)
		if group == "" || c.cfg.GroupEnabled(group, objType) {
			c.alerter.Dispatch(ctx, a)
		}
	}

	if thr := c.cfg.Int64(config.KeyElapsedTimeMS, objType, 0); thr != 0 && ev.ElapsedMS > thr {
		service := c.serviceName(ctx, date, ev.ServiceID)
		c.alerter.Dispatch(ctx, &model.Alert{
			Level:      model.LevelWarn,
			ObjectID:   ev.ObjectID,
			ObjectName: name,
			ObjectType: objType,
			Title:      "Elapsed Time Exceed a threshold.",
			Message: fmt.Sprintf("[%s]   [URL : %s]   Elapsed Time(%d ms) exceed a threshold.",
				name, service, ev.ElapsedMS),
			Time: time.Now(),
		})
	}
}

// Counter handles a performance counter sample. Objects of the javaee
// family are tracked for the thread-count poller; realtime samples are
// additionally checked against the heap-used and GC-time thresholds.
func (c *Classifier) Counter(ctx context.Context, ev model.CounterEvent) {
	if ev.Family != model.FamilyJavaEE {
		return
	}
	c.javaee.Store(ev.ObjectID, struct{}{})

	if ev.TimeType != model.TimeTypeRealtime {
		return
	}

	objType := ""
	if agent, ok := c.agents.Get(ev.ObjectID); ok {
		objType = agent.Type
	}

	if thr := c.cfg.HeapThreshold(ev.ObjectName); thr != 0 && ev.HeapUsedMB > thr {
		c.alerter.Dispatch(ctx, &model.Alert{
			Level:      model.LevelFatal,
			ObjectID:   ev.ObjectID,
			ObjectName: ev.ObjectName,
			ObjectType: objType,
			Title:      "Heap used exceed a threshold.",
			Message:    fmt.Sprintf("%s Heap used(%d M) exceed a threshold.", ev.ObjectName, ev.HeapUsedMB),
			Time:       time.Now(),
		})
	}

	if thr := c.cfg.Int64(config.KeyGCTimeMS, objType, 0); thr != 0 && ev.GCTimeMS > thr {
		c.alerter.Dispatch(ctx, &model.Alert{
			Level:      model.LevelWarn,
			ObjectID:   ev.ObjectID,
			ObjectName: ev.ObjectName,
			ObjectType: objType,
			Title:      "GC time exceed a threshold.",
			Message:    fmt.Sprintf("%s's GC time(%d ms) exceed a threshold.", ev.ObjectName, ev.GCTimeMS),
			Time:       time.Now(),
		})
	}
}

// TrackedObjects returns a snapshot of the javaee object ids seen so far.
func (c *Classifier) TrackedObjects() []int64 {
	var ids []int64
	c.javaee.Range(func(k, _ any) bool {
		ids = append(ids, k.(int64))
		return true
	})
	return ids
}

func (c *Classifier) serviceName(ctx context.Context, date string, id int64) string {
	s, err := c.texts.ServiceName(ctx, date, id)
	if err != nil || s == "" {
		return strconv.FormatInt(id, 10)
	}
	return s
}

func (c *Classifier) errorText(ctx context.Context, date string, id int64) string {
	s, err := c.texts.ErrorText(ctx, date, id)
	if err != nil || s == "" {
		return strconv.FormatInt(id, 10)
	}
	return s
}
