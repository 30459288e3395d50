// Package dispatch ties routing, deduplication, composition, and delivery
// together: one entry point decides whether an alert is sent, where it goes,
// and hands the send to a bounded worker pool so a slow webhook never blocks
// the event-processing path.
package dispatch

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/t77yq/apm-notifier/internal/card"
	"github.com/t77yq/apm-notifier/internal/config"
	"github.com/t77yq/apm-notifier/internal/dedup"
	"github.com/t77yq/apm-notifier/internal/mention"
	"github.com/t77yq/apm-notifier/internal/model"
	"github.com/t77yq/apm-notifier/internal/routing"
	"github.com/t77yq/apm-notifier/internal/storage"
)

// Sender delivers a rendered payload to one webhook endpoint.
type Sender interface {
	Send(ctx context.Context, url string, payload []byte) error
}

// AgentNamer resolves an object identifier to its registered agent name.
type AgentNamer interface {
	Name(objectID int64) string
}

// Dispatcher is the single entry point for alert delivery.
type Dispatcher struct {
	logger  *zap.Logger
	cfg     *config.Config
	sender  Sender
	gate    *dedup.Gate
	names   AgentNamer
	history storage.DeliveryHistory
	pool    *ants.Pool
	wg      sync.WaitGroup

	ignoreTitle []*regexp.Regexp
	ignoreMsg   []*regexp.Regexp
}

// New builds a dispatcher with a worker pool of poolSize deliveries in
// flight. history may be nil to disable delivery recording.
func New(logger *zap.Logger, cfg *config.Config, sender Sender, gate *dedup.Gate, names AgentNamer, history storage.DeliveryHistory, poolSize int) (*Dispatcher, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		logger:  logger.Named("dispatch"),
		cfg:     cfg,
		sender:  sender,
		gate:    gate,
		names:   names,
		history: history,
		pool:    pool,
	}
	d.ignoreTitle = compilePatterns(logger, cfg.IgnoreTitlePatterns())
	d.ignoreMsg = compilePatterns(logger, cfg.IgnoreMessagePatterns())
	return d, nil
}

// compilePatterns compiles the configured ignore regexes, logging and
// skipping any that do not compile.
func compilePatterns(logger *zap.Logger, patterns []string) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Warn("Skipping invalid ignore pattern",
				zap.String("pattern", p),
				zap.Error(err))
			continue
		}
		out = append(out, re)
	}
	return out
}

// Dispatch applies the synchronous gates (send-enable flag, severity floor,
// ignore patterns) and submits the delivery to the worker pool. It never
// blocks on the webhook call itself and never reports delivery failure to
// the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, a *model.Alert) {
	objType := a.ObjectType
	if !d.cfg.Bool(config.KeySendAlert, objType, false) {
		return
	}
	if a.Level < d.cfg.MinLevel(objType) {
		return
	}
	if d.ignored(a) {
		d.logger.Debug("Alert matched an ignore pattern", zap.String("title", a.Title))
		return
	}

	d.wg.Add(1)
	if err := d.pool.Submit(func() {
		defer d.wg.Done()
		d.deliver(ctx, a)
	}); err != nil {
		d.wg.Done()
		d.logger.Error("Failed to submit delivery", zap.Error(err))
	}
}

// ignored reports whether the alert matches any configured ignore regex.
func (d *Dispatcher) ignored(a *model.Alert) bool {
	for _, re := range d.ignoreTitle {
		if re.MatchString(a.Title) {
			return true
		}
	}
	for _, re := range d.ignoreMsg {
		if re.MatchString(a.Message) {
			return true
		}
	}
	return false
}

// deliver runs on the worker pool: routing, dedup, composition, primary
// send, fan-out, and history recording.
func (d *Dispatcher) deliver(ctx context.Context, a *model.Alert) {
	objType := a.ObjectType
	debug := d.cfg.Bool(config.KeyDebug, objType, false)

	defURL := strings.TrimSpace(d.cfg.String(config.KeyWebhookURL, objType, ""))
	if defURL == "" {
		d.logger.Warn("Webhook URL is empty", zap.String("title", a.Title))
		return
	}

	name := a.ObjectName
	if name == "" {
		name = d.names.Name(a.ObjectID)
	}
	if name == "" {
		name = "N/A"
	}

	title, msg := displayText(a)

	decision := routing.Resolve(name, objType, title, msg,
		defURL,
		d.cfg.String(config.KeyChannel, objType, ""),
		d.cfg.String(config.KeyMentionUsers, objType, ""),
		d.cfg.String(config.KeyRules, "", ""),
		d.cfg)
	if strings.TrimSpace(decision.URL) == "" {
		d.logger.Warn("Webhook URL is empty after routing", zap.String("title", a.Title))
		return
	}

	decision.Mentions = mention.Merge(decision.Mentions,
		mention.Parse(d.cfg.String(config.KeyGlobalMentions, "", "")))
	fanout := mention.SplitCSV(d.cfg.String(config.KeyGlobalWebhookURLs, "", ""))

	if d.cfg.Bool(config.KeyIgnoreDuplicate, objType, false) && d.gate.ShouldSuppress(a, time.Now()) {
		d.logger.Info("Ignored duplicate alert within the dedup window",
			zap.Int64("object_id", a.ObjectID),
			zap.String("title", a.Title))
		return
	}

	payload, err := card.Compose(name, objType, title, msg, decision.Mentions)
	if err != nil {
		d.logger.Error("Failed to compose card", zap.Error(err))
		return
	}

	if debug {
		d.logger.Info("Dispatching alert",
			zap.String("url", decision.URL),
			zap.String("channel", decision.Channel),
			zap.Strings("fanout", fanout),
			zap.ByteString("payload", payload))
	}

	sendErr := d.sender.Send(ctx, decision.URL, payload)
	if sendErr != nil {
		d.logger.Error("Webhook delivery failed",
			zap.String("url", decision.URL),
			zap.String("channel", decision.Channel),
			zap.Error(sendErr))
	} else if debug {
		d.logger.Info("Teams message sent", zap.String("channel", decision.Channel))
	}

	// The dedup slot is updated after the primary attempt; the attempt's
	// outcome does not gate the update, and fan-out sends never touch it.
	d.gate.Remember(a, time.Now())

	for _, url := range fanout {
		if err := d.sender.Send(ctx, url, payload); err != nil {
			d.logger.Error("Fan-out delivery failed",
				zap.String("url", url),
				zap.Error(err))
		}
	}

	d.record(ctx, a, decision, sendErr)
}

// displayText derives the rendered title and message. Lifecycle transitions
// carry a structured kind, so the human sentences are rebuilt from fields
// instead of sliced out of upstream message text.
func displayText(a *model.Alert) (string, string) {
	switch a.Kind {
	case model.KindInactivated:
		return "An object has been inactivated.", a.ObjectName + " is inactivated."
	case model.KindActivated:
		return "An object is activated now!!! ", a.ObjectName + " is activated."
	default:
		return a.Title, a.Message
	}
}

// record writes the delivery attempt to history, best effort.
func (d *Dispatcher) record(ctx context.Context, a *model.Alert, decision routing.Decision, sendErr error) {
	if d.history == nil {
		return
	}
	rec := &storage.DeliveryRecord{
		ID:         uuid.New().String(),
		ObjectID:   a.ObjectID,
		ObjectName: a.ObjectName,
		ObjectType: a.ObjectType,
		Level:      a.Level,
		Title:      a.Title,
		URL:        decision.URL,
		Channel:    decision.Channel,
		Status:     storage.StatusDelivered,
		SentAt:     time.Now(),
	}
	if sendErr != nil {
		rec.Status = storage.StatusFailed
		rec.Error = sendErr.Error()
	}
	if err := d.history.Store(ctx, rec); err != nil {
		d.logger.Warn("Failed to record delivery", zap.Error(err))
	}
}

// PoolStats returns the number of running and idle delivery workers.
func (d *Dispatcher) PoolStats() (running, free int) {
	return d.pool.Running(), d.pool.Free()
}

// Close waits up to timeout for in-flight deliveries and releases the pool.
func (d *Dispatcher) Close(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		d.logger.Warn("Timed out waiting for in-flight deliveries")
	}
	d.pool.Release()
}
