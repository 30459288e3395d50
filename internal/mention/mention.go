// Package mention models chat-platform user references parsed from
// configuration strings.
package mention

import (
	"strings"

	"github.com/t77yq/apm-notifier/internal/alias"
)

// Mention is a chat-platform user reference. ID is an opaque routing key
// (typically a user principal name); Display is the label rendered in the
// message body.
type Mention struct {
	ID      string
	Display string
}

// Parse parses a comma-separated mention list. Each token is either "id" or
// "id|alias". Tokens, ids, and aliases are trimmed; empty tokens are
// skipped. The display label is always passed through alias.Normalize, using
// the inline alias when present and the id itself otherwise.
func Parse(csv string) []Mention {
	var out []Mention
	if strings.TrimSpace(csv) == "" {
		return out
	}
	for _, token := range strings.Split(csv, ",") {
		t := strings.TrimSpace(token)
		if t == "" {
			continue
		}

		id := t
		inline := ""
		if p := strings.Index(t, "|"); p > -1 {
			id = strings.TrimSpace(t[:p])
			inline = strings.TrimSpace(t[p+1:])
		}
		if id == "" {
			continue
		}

		source := inline
		if source == "" {
			source = id
		}
		out = append(out, Mention{ID: id, Display: alias.Normalize(source)})
	}
	return out
}

// Merge combines two mention lists into an order-preserving set keyed by
// case-insensitive id. Entries from primary take precedence; entries from
// secondary are appended only for ids not already present. This lets a
// per-route mention list be combined with a global always-mention list
// without pinging the same person twice.
func Merge(primary, secondary []Mention) []Mention {
	out := make([]Mention, 0, len(primary)+len(secondary))
	seen := make(map[string]struct{}, len(primary)+len(secondary))
	for _, lists := range [][]Mention{primary, secondary} {
		for _, m := range lists {
			if m.ID == "" {
				continue
			}
			k := strings.ToLower(m.ID)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// SplitCSV splits a comma-separated list into trimmed, non-empty tokens.
func SplitCSV(csv string) []string {
	var out []string
	for _, t := range strings.Split(csv, ",") {
		if v := strings.TrimSpace(t); v != "" {
			out = append(out, v)
		}
	}
	return out
}
