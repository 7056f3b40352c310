package textutil

import (
	"html"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// DefaultMaxFreeTextLength caps persisted free-text fields such as order
	// notes and cancellation reasons.
	DefaultMaxFreeTextLength = 1000
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

func freeTextPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeFreeText strips all markup and control characters from user supplied
// free text before it is persisted. The result is trimmed and truncated to
// limit runes; a non-positive limit applies DefaultMaxFreeTextLength.
func SanitizeFreeText(value string, limit int) string {
	if limit <= 0 {
		limit = DefaultMaxFreeTextLength
	}

	value = freeTextPolicy().Sanitize(value)
	value = html.UnescapeString(value)

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}

	return strings.TrimSpace(string(cleaned))
}
