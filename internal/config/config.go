// Package config exposes the dispatcher's configuration surface on top of
// viper. Most keys can be overridden per object type under
// object_types.<objType>.<key>, falling back to the global key.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/t77yq/apm-notifier/internal/model"
)

// Configuration keys. Keys marked global-only have no per-object-type
// override.
const (
	KeySendAlert         = "teams.send_alert"
	KeyLevel             = "teams.level"
	KeyWebhookURL        = "teams.webhook_url"
	KeyChannel           = "teams.channel"
	KeyMentionUsers      = "teams.mention_users"
	KeyGlobalMentions    = "teams.global_mentions"     // global only
	KeyGlobalWebhookURLs = "teams.global_webhook_urls" // global only
	KeyRules             = "teams.rules"               // global only
	KeyDebug             = "teams.debug"
	KeyIgnoreDuplicate   = "dedup.ignore_duplicate_alert"
	KeyObjectAlert       = "object.alert_enabled" // global only
	KeyXlogEnabled       = "xlog.enabled"
	KeyElapsedTimeMS     = "thresholds.elapsed_time_ms"
	KeyGCTimeMS          = "thresholds.gc_time_ms"
	KeyHeapUsedMB        = "thresholds.heap_used_mb"
	KeyThreadCount       = "thresholds.thread_count"
)

// HeapTier is one entry of the tiered heap-threshold table: objects whose
// name appears in Servers use ThresholdMB instead of the default.
type HeapTier struct {
	Name        string   `mapstructure:"name"`
	ThresholdMB int64    `mapstructure:"threshold_mb"`
	Servers     []string `mapstructure:"servers"`
}

// Config wraps a viper instance with the scoped lookups the dispatcher
// needs. It also implements routing.RuleSource over the teams.rule.* keys.
type Config struct {
	v *viper.Viper
}

// New wraps an already-loaded viper instance.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

func (c *Config) scoped(key, objType string) (string, bool) {
	if objType != "" {
		k := "object_types." + strings.ToLower(objType) + "." + key
		if c.v.IsSet(k) {
			return k, true
		}
	}
	return key, c.v.IsSet(key)
}

// Bool resolves a boolean key for objType with global fallback.
func (c *Config) Bool(key, objType string, def bool) bool {
	if k, ok := c.scoped(key, objType); ok {
		return c.v.GetBool(k)
	}
	return def
}

// Int64 resolves an integer key for objType with global fallback.
func (c *Config) Int64(key, objType string, def int64) int64 {
	if k, ok := c.scoped(key, objType); ok {
		return c.v.GetInt64(k)
	}
	return def
}

// String resolves a string key for objType with global fallback.
func (c *Config) String(key, objType string, def string) string {
	if k, ok := c.scoped(key, objType); ok {
		return c.v.GetString(k)
	}
	return def
}

// MinLevel returns the configured severity floor for objType.
func (c *Config) MinLevel(objType string) model.Level {
	return model.ParseLevel(c.String(KeyLevel, objType, "info"))
}

// Condition implements routing.RuleSource.
func (c *Config) Condition(name string) string {
	return c.v.GetString("teams.rule." + name + ".when_contains")
}

// URL implements routing.RuleSource.
func (c *Config) URL(name string) string {
	return c.v.GetString("teams.rule." + name + ".webhook_url")
}

// Channel implements routing.RuleSource.
func (c *Config) Channel(name string) string {
	return c.v.GetString("teams.rule." + name + ".channel")
}

// Mentions implements routing.RuleSource. The second return reports whether
// the key is present at all: present-but-empty clears the mention list.
func (c *Config) Mentions(name string) (string, bool) {
	k := "teams.rule." + name + ".mentions"
	return c.v.GetString(k), c.v.IsSet(k)
}

// ServerGroup returns the feature-group tag for an object name, or "" when
// the name is not in the xlog.server_groups table. The table replaces the
// hardcoded per-customer name ladder of the original deployment.
func (c *Config) ServerGroup(objName string) string {
	groups := c.v.GetStringMapString("xlog.server_groups")
	return groups[strings.ToLower(objName)]
}

// GroupEnabled reports whether trace-error forwarding is enabled for a
// feature group.
func (c *Config) GroupEnabled(group, objType string) bool {
	return c.Bool("xlog.group_enabled."+group, objType, false)
}

// HeapThreshold returns the heap-used threshold (MB) for an object name:
// the first tier whose server list contains the name, else the default.
func (c *Config) HeapThreshold(objName string) int64 {
	var tiers []HeapTier
	if err := c.v.UnmarshalKey("thresholds.heap_tiers", &tiers); err == nil {
		for _, tier := range tiers {
			for _, s := range tier.Servers {
				if strings.TrimSpace(s) == objName {
					return tier.ThresholdMB
				}
			}
		}
	}
	return c.v.GetInt64(KeyHeapUsedMB)
}

// IgnoreTitlePatterns returns the regex list for titles to drop.
func (c *Config) IgnoreTitlePatterns() []string {
	return c.v.GetStringSlice("teams.ignore_title_patterns")
}

// IgnoreMessagePatterns returns the regex list for messages to drop.
func (c *Config) IgnoreMessagePatterns() []string {
	return c.v.GetStringSlice("teams.ignore_message_patterns")
}
