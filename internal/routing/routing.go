// Package routing selects the destination for an alert using ordered,
// named rules matched against a flattened haystack of alert fields.
// Substring/OR matching gives operators a cheap, regex-free routing DSL at
// the cost of false positives on substring collisions.
package routing

import (
	"strings"

	"github.com/t77yq/apm-notifier/internal/mention"
)

// Decision is the resolved destination for a single alert. A Decision is
// produced fresh per dispatch and never shared across alerts.
type Decision struct {
	URL      string
	Channel  string
	Mentions []mention.Mention
}

// RuleSource provides the per-rule configuration keys. Mentions reports
// whether the key is present at all: a present-but-empty mentions override
// clears the default list, while an absent key leaves it untouched.
type RuleSource interface {
	Condition(name string) string
	URL(name string) string
	Channel(name string) string
	Mentions(name string) (string, bool)
}

// Resolve picks the destination for an alert. The decision starts from the
// defaults; if rulesCSV is empty the defaults are returned untouched.
// Otherwise rule names are evaluated in declaration order against a
// lowercase haystack of agent name, object type, title, and message. The
// first matching rule applies its overrides (each independently optional)
// and evaluation stops. No match leaves the defaults standing.
func Resolve(agentName, objType, title, message, defURL, defChannel, defMentionsCSV, rulesCSV string, rules RuleSource) Decision {
	d := Decision{
		URL:      defURL,
		Channel:  defChannel,
		Mentions: mention.Parse(defMentionsCSV),
	}
	if strings.TrimSpace(rulesCSV) == "" {
		return d
	}

	haystack := strings.ToLower(agentName + " | " + objType + " | " + title + " | " + message)

	for _, raw := range strings.Split(rulesCSV, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}

		cond := strings.TrimSpace(rules.Condition(name))
		if cond == "" {
			continue
		}

		if !matches(cond, haystack) {
			continue
		}

		if url := strings.TrimSpace(rules.URL(name)); url != "" {
			d.URL = url
		}
		if ch := strings.TrimSpace(rules.Channel(name)); ch != "" {
			d.Channel = ch
		}
		if men, ok := rules.Mentions(name); ok {
			d.Mentions = mention.Parse(men)
		}
		break
	}
	return d
}

// matches reports whether cond matches haystack. A condition of literal "*"
// always matches; otherwise the condition is split on "|" into
// case-insensitive substring tokens and any token found in the haystack is a
// match.
func matches(cond, haystack string) bool {
	if cond == "*" {
		return true
	}
	for _, token := range strings.Split(cond, "|") {
		t := strings.ToLower(strings.TrimSpace(token))
		if t != "" && strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}
