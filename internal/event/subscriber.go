// Package event adapts the host monitoring server's NATS bus to the
// dispatcher: it consumes the typed event subjects and answers lookups the
// classifiers need (text resolution, agent thread lists) over request/reply.
package event

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/apm-notifier/internal/classify"
	"github.com/t77yq/apm-notifier/internal/model"
	"github.com/t77yq/apm-notifier/internal/registry"
)

// Subjects published by the host monitoring server. Alerts are ephemeral by
// contract, so plain core-NATS subscriptions are used; there is no
// durability requirement on this feed.
const (
	SubjectAlert   = "apm.event.alert"
	SubjectObject  = "apm.event.object"
	SubjectTrace   = "apm.event.xlog"
	SubjectCounter = "apm.event.counter"
)

// Subscriber bridges inbound event subjects to the classifiers and keeps
// the agent registry current.
type Subscriber struct {
	logger     *zap.Logger
	nc         *nats.Conn
	classifier *classify.Classifier
	agents     *registry.Registry
	subs       []*nats.Subscription
}

// NewSubscriber creates a subscriber over an established NATS connection.
func NewSubscriber(logger *zap.Logger, nc *nats.Conn, classifier *classify.Classifier, agents *registry.Registry) *Subscriber {
	return &Subscriber{
		logger:     logger.Named("event"),
		nc:         nc,
		classifier: classifier,
		agents:     agents,
	}
}

// Start subscribes to all event subjects. Handlers never assume delivery
// order across subjects.
func (s *Subscriber) Start(ctx context.Context) error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{SubjectAlert, func(msg *nats.Msg) { s.handleAlert(ctx, msg) }},
		{SubjectObject, func(msg *nats.Msg) { s.handleObject(ctx, msg) }},
		{SubjectTrace, func(msg *nats.Msg) { s.handleTrace(ctx, msg) }},
		{SubjectCounter, func(msg *nats.Msg) { s.handleCounter(ctx, msg) }},
	}

	for _, h := range handlers {
		sub, err := s.nc.Subscribe(h.subject, h.handler)
		if err != nil {
			s.Stop()
			return err
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.Info("Subscribed to event subjects", zap.Int("subjects", len(s.subs)))
	return nil
}

// Stop unsubscribes from all event subjects.
func (s *Subscriber) Stop() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Subscriber) handleAlert(ctx context.Context, msg *nats.Msg) {
	var ev model.AlertEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.logger.Error("Failed to unmarshal alert event", zap.Error(err))
		return
	}
	if ev.Kind == model.KindInactivated || ev.Title == "INACTIVE_OBJECT" {
		s.agents.SetAlive(ev.ObjectID, false)
	}
	s.classifier.GenericAlert(ctx, ev)
}

func (s *Subscriber) handleObject(ctx context.Context, msg *nats.Msg) {
	var ev model.ObjectEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.logger.Error("Failed to unmarshal object event", zap.Error(err))
		return
	}
	// Classification compares against the pre-event registry state, so the
	// registry is updated only afterwards.
	s.classifier.Object(ctx, ev)
	s.agents.Upsert(&registry.Agent{
		ID:    ev.ObjectID,
		Name:  ev.ObjectName,
		Type:  ev.ObjectType,
		Alive: true,
	})
}

func (s *Subscriber) handleTrace(ctx context.Context, msg *nats.Msg) {
	var ev model.TraceEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.logger.Error("Failed to unmarshal trace event", zap.Error(err))
		return
	}
	s.classifier.Trace(ctx, ev)
}

func (s *Subscriber) handleCounter(ctx context.Context, msg *nats.Msg) {
	var ev model.CounterEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.logger.Error("Failed to unmarshal counter event", zap.Error(err))
		return
	}
	s.classifier.Counter(ctx, ev)
}
