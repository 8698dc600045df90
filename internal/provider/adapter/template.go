package adapter

import (
	"regexp"
	"strings"
)

// Placeholders come in two historical shapes: $variable (legacy handler_api
// style configs) and {variable}. Both are substituted from the same variable
// set; unknown placeholders are left untouched so misconfigurations surface
// in traces instead of vanishing.
var placeholderRe = regexp.MustCompile(`\$(\w+)|\{(\w+)\}`)

func substitute(template string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		var name string
		if strings.HasPrefix(m, "$") {
			name = m[1:]
		} else {
			name = strings.Trim(m, "{}")
		}
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}
