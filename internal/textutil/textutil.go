package textutil

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Exclude reports whether text contains any of the given patterns as a
// case-insensitive substring. Substring matching (rather than token-exact)
// is deliberate: the upstream platforms format compound tags inconsistently.
func Exclude(text string, patterns []string) bool {
	if text == "" {
		return false
	}
	lowered := strings.ToLower(text)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// ExcludeAnyTag reports whether Exclude holds for any tag in the set.
func ExcludeAnyTag(tags []string, patterns []string) bool {
	for _, tag := range tags {
		if Exclude(tag, patterns) {
			return true
		}
	}
	return false
}

// MatchesAny reports whether text matches at least one requested pattern.
// It is the inclusion side of the same substring predicate.
func MatchesAny(text string, patterns []string) bool {
	return Exclude(text, patterns)
}

var unicodeEscapeRegex = regexp.MustCompile(`(?:\\u[0-9a-fA-F]{4}){1,2}`)

// DecodeUnicode decodes escape sequences like 只 left in raw payloads.
// Adjacent escapes are matched together so surrogate pairs (emoji and other
// astral-plane characters) combine into their real code point.
func DecodeUnicode(text string) string {
	if text == "" {
		return text
	}
	return unicodeEscapeRegex.ReplaceAllStringFunc(text, func(m string) string {
		first, err := strconv.ParseUint(m[2:6], 16, 32)
		if err != nil {
			return m
		}
		if len(m) == 12 {
			second, err := strconv.ParseUint(m[8:12], 16, 32)
			if err != nil {
				return m
			}
			if combined := utf16.DecodeRune(rune(first), rune(second)); combined != utf8.RuneError {
				return string(combined)
			}
			return string(rune(first)) + string(rune(second))
		}
		return string(rune(first))
	})
}

// Sanitize decodes \uXXXX escapes and drops unpaired surrogates that would
// otherwise corrupt downstream JSON encoding.
func Sanitize(text string) string {
	if text == "" {
		return text
	}
	text = DecodeUnicode(text)
	return stripSurrogates(text)
}

// SanitizeHTML drops surrogates without decoding escapes, for payloads that
// are already markup.
func SanitizeHTML(html string) string {
	return stripSurrogates(html)
}

func stripSurrogates(text string) string {
	var out strings.Builder
	for _, r := range text {
		if r >= 0xD800 && r <= 0xDFFF {
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

var htmlTagRegex = regexp.MustCompile(`<[^>]+>`)

// CleanHTML strips markup remnants and common entities from digest text.
func CleanHTML(html string) string {
	clean := htmlTagRegex.ReplaceAllString(html, "")
	clean = strings.ReplaceAll(clean, "&nbsp;", " ")
	clean = strings.ReplaceAll(clean, "&lt;", "<")
	clean = strings.ReplaceAll(clean, "&gt;", ">")
	clean = strings.ReplaceAll(clean, "&amp;", "&")
	clean = DecodeUnicode(clean)
	return strings.TrimSpace(clean)
}

// Truncate cuts a string to at most n runes.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
