package config

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/apm-notifier/internal/model"
)

func load(t *testing.T, yaml string) *Config {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yaml)))
	return New(v)
}

func TestScopedLookupFallsBackToGlobal(t *testing.T) {
	cfg := load(t, `
teams:
  send_alert: true
  level: warn
object_types:
  tomcat:
    teams:
      level: error
`)

	require.True(t, cfg.Bool(KeySendAlert, "tomcat", false))
	require.True(t, cfg.Bool(KeySendAlert, "", false))
	require.False(t, cfg.Bool(KeySendAlert+"_missing", "tomcat", false))

	require.Equal(t, model.LevelError, cfg.MinLevel("tomcat"))
	require.Equal(t, model.LevelWarn, cfg.MinLevel("redis"))
}

func TestRuleSource(t *testing.T) {
	cfg := load(t, `
teams:
  rule:
    esc:
      when_contains: "foo|bar"
      webhook_url: https://esc/hook
      mentions: ""
`)

	require.Equal(t, "foo|bar", cfg.Condition("esc"))
	require.Equal(t, "https://esc/hook", cfg.URL("esc"))
	require.Equal(t, "", cfg.Channel("esc"))

	men, ok := cfg.Mentions("esc")
	require.True(t, ok)
	require.Equal(t, "", men)

	_, ok = cfg.Mentions("missing")
	require.False(t, ok)
}

func TestServerGroups(t *testing.T) {
	cfg := load(t, `
xlog:
  server_groups:
    /cjwas03/expwas01: exp
    /cjwas04/expwas02: exp
  group_enabled:
    exp: true
`)

	require.Equal(t, "exp", cfg.ServerGroup("/cjwas03/expwas01"))
	require.Equal(t, "", cfg.ServerGroup("/unknown/server"))
	require.True(t, cfg.GroupEnabled("exp", "tomcat"))
	require.False(t, cfg.GroupEnabled("esc", "tomcat"))
}

func TestHeapThresholdTiers(t *testing.T) {
	cfg := load(t, `
thresholds:
  heap_used_mb: 2048
  heap_tiers:
    - name: 8g
      threshold_mb: 7000
      servers: ["/gprtwas1/wise_prd11", "/gprtwas1/wise_prd12"]
    - name: 4g
      threshold_mb: 3500
      servers: ["/cjwas03/expwas01"]
`)

	require.Equal(t, int64(7000), cfg.HeapThreshold("/gprtwas1/wise_prd11"))
	require.Equal(t, int64(3500), cfg.HeapThreshold("/cjwas03/expwas01"))
	require.Equal(t, int64(2048), cfg.HeapThreshold("/other/server"))
}

func TestThresholdScoping(t *testing.T) {
	cfg := load(t, `
thresholds:
  gc_time_ms: 500
object_types:
  tomcat:
    thresholds:
      gc_time_ms: 800
`)

	require.Equal(t, int64(800), cfg.Int64(KeyGCTimeMS, "tomcat", 0))
	require.Equal(t, int64(500), cfg.Int64(KeyGCTimeMS, "redis", 0))
	require.Equal(t, int64(0), cfg.Int64(KeyElapsedTimeMS, "tomcat", 0))
}
