package server

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// uriTemplate is a compiled URI pattern with {param} placeholders. A
// placeholder captures one non-empty path segment, so "data://loc/{id}"
// matches "data://loc/london" but neither "data://loc" nor
// "data://loc/a/b".
type uriTemplate struct {
	raw    string
	re     *regexp.Regexp
	params []string
}

func parseURITemplate(raw string) (*uriTemplate, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("template %q has no placeholders", raw)
	}

	var pattern strings.Builder
	pattern.WriteString("^")
	params := make([]string, 0, len(matches))
	last := 0
	for _, m := range matches {
		pattern.WriteString(regexp.QuoteMeta(raw[last:m[0]]))
		pattern.WriteString(`([^/]+)`)
		params = append(params, raw[m[2]:m[3]])
		last = m[1]
	}
	pattern.WriteString(regexp.QuoteMeta(raw[last:]))
	pattern.WriteString("$")

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, fmt.Errorf("template %q compiles to an invalid pattern: %w", raw, err)
	}
	return &uriTemplate{raw: raw, re: re, params: params}, nil
}

// match tests a concrete URI against the template and returns the captured
// parameter values.
func (t *uriTemplate) match(uri string) (map[string]string, bool) {
	groups := t.re.FindStringSubmatch(uri)
	if groups == nil {
		return nil, false
	}
	values := make(map[string]string, len(t.params))
	for i, name := range t.params {
		values[name] = groups[i+1]
	}
	return values, true
}
