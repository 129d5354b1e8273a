// Package htmlsanitize strips unsafe markup from user-supplied text.
package htmlsanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	ugc   = bluemonday.UGCPolicy()
	plain = bluemonday.StrictPolicy()
)

// Sanitize keeps safe formatting markup and removes scripts, event
// handlers and unsafe URLs. Used for descriptions, bios and messages.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(ugc.Sanitize(s))
}

// StripTags removes every tag, leaving text only. Used for short fields
// such as names and titles.
func StripTags(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(plain.Sanitize(s))
}
