// Package alias recovers human-readable display names from mis-encoded
// text. Upstream systems occasionally double-encode or mis-transcode Korean
// operator names; Normalize picks the most plausible reading of a string by
// scoring candidate decodings for Hangul content. It is a best-effort
// heuristic, not a guarantee of correctness.
package alias

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var unicodeEsc = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)

// Normalize returns the best-guess human-readable form of raw. Three
// candidates are considered: the string itself, the string with literal
// \uXXXX escapes decoded, and the string reinterpreted as Latin-1 bytes
// re-decoded as UTF-8. The candidate with the strictly highest Hangul score
// wins; when all three scores are equal the longest candidate is kept.
// Blank input is returned unchanged.
func Normalize(raw string) string {
	a := strings.TrimSpace(raw)
	if a == "" {
		return raw
	}

	b := unescapeUnicode(a)
	c := recoverLatin1(a)

	sa := scoreHangul(a)
	sb := scoreHangul(b)
	sc := scoreHangul(c)

	best := a
	bestScore := sa
	if sb > bestScore {
		best, bestScore = b, sb
	}
	if sc > bestScore {
		best, bestScore = c, sc
	}

	// No candidate stood out; a recovered candidate replaces the original
	// only when it reads strictly longer, so valid non-Hangul names survive
	// a full tie untouched.
	if bestScore == sa && bestScore == sb && bestScore == sc {
		if utf8.RuneCountInString(b) > utf8.RuneCountInString(best) {
			best = b
		}
		if utf8.RuneCountInString(c) > utf8.RuneCountInString(best) {
			best = c
		}
	}
	return best
}

// unescapeUnicode decodes literal \uXXXX escape sequences to their code
// points, leaving everything else untouched.
func unescapeUnicode(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	return unicodeEsc.ReplaceAllStringFunc(s, func(m string) string {
		v, err := strconv.ParseUint(m[2:], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(v))
	})
}

// recoverLatin1 treats each code point of s as a Latin-1 byte value and
// re-decodes the byte sequence as UTF-8. Code points outside Latin-1 map to
// '?' and invalid UTF-8 sequences to U+FFFD, so the result is always a
// scorable candidate.
func recoverLatin1(s string) string {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r <= 0xFF {
			buf = append(buf, byte(r))
		} else {
			buf = append(buf, '?')
		}
	}
	return strings.ToValidUTF8(string(buf), "�")
}

// scoreHangul counts runes in the Hangul syllable, Jamo, and compatibility
// Jamo blocks.
func scoreHangul(s string) int {
	score := 0
	for _, r := range s {
		if (r >= 0xAC00 && r <= 0xD7AF) || (r >= 0x1100 && r <= 0x11FF) || (r >= 0x3130 && r <= 0x318F) {
			score++
		}
	}
	return score
}
