package services

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_.]+)\}`)

// RenderTemplate substitutes "{entity.field}" and "{event.field}"
// placeholders in action bodies. An unresolvable placeholder renders as
// an empty string, never an error.
func RenderTemplate(s string, evt Event, snapshot EntitySnapshot) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1 : len(match)-1]
		if rest, ok := strings.CutPrefix(name, "entity."); ok {
			if v, found := snapshot[rest]; found && v != nil {
				return stringify(v)
			}
			return ""
		}
		if v, ok := resolveField(name, evt, snapshot); ok {
			return stringify(v)
		}
		return ""
	})
}
