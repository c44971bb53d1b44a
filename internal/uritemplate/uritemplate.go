// Package uritemplate implements RFC 6570 expansion and inverse matching for
// MCP resource templates. Expansion delegates to
// github.com/yosida95/uritemplate/v3; inverse matching (which the upstream
// library does not provide) is implemented here by compiling the same
// template into an anchored regular expression, one case per operator.
package uritemplate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yosida95/uritemplate/v3"
)

// Numeric bounds on template size, kept well above any realistic template.
const (
	MaxTemplateBytes   = 1_000_000
	MaxExpressions     = 10_000
	MaxVariableBytes   = 1_000_000
)

// Template is a compiled RFC 6570 template supporting both expansion and
// inverse matching.
type Template struct {
	raw       string
	upstream  *uritemplate.Template
	matcher   *regexp.Regexp
	varNames  []string
	groupVars map[string]string // regexp group name -> RFC 6570 variable name
}

// New parses and compiles a template. It enforces the numeric bounds above
// as fatal errors (not JSON-RPC protocol errors).
func New(raw string) (*Template, error) {
	if len(raw) > MaxTemplateBytes {
		return nil, fmt.Errorf("uritemplate: template exceeds %d bytes", MaxTemplateBytes)
	}
	if n := strings.Count(raw, "{"); n > MaxExpressions {
		return nil, fmt.Errorf("uritemplate: template has %d expressions, exceeds %d", n, MaxExpressions)
	}

	upstream, err := uritemplate.New(raw)
	if err != nil {
		return nil, fmt.Errorf("uritemplate: parse %q: %w", raw, err)
	}

	pattern, names, groupVars, err := compileMatcher(raw)
	if err != nil {
		return nil, fmt.Errorf("uritemplate: compile matcher for %q: %w", raw, err)
	}
	matcher, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("uritemplate: invalid generated matcher for %q: %w", raw, err)
	}

	return &Template{raw: raw, upstream: upstream, matcher: matcher, varNames: names, groupVars: groupVars}, nil
}

// Raw returns the original template string.
func (t *Template) Raw() string { return t.raw }

// Varnames returns the variable names referenced by the template, in the
// order they first appear.
func (t *Template) Varnames() []string {
	out := make([]string, len(t.varNames))
	copy(out, t.varNames)
	return out
}

// Expand substitutes variables into the template, percent-encoding
// according to each expression's operator. Missing variables are omitted
// rather than erroring, and list values are joined per operator-specific
// separators.
func (t *Template) Expand(vars map[string]any) (string, error) {
	values := uritemplate.Values{}
	for name, v := range vars {
		switch val := v.(type) {
		case string:
			if len(val) > MaxVariableBytes {
				return "", fmt.Errorf("uritemplate: variable %q exceeds %d bytes", name, MaxVariableBytes)
			}
			values.Set(name, uritemplate.String(val))
		case []string:
			for _, s := range val {
				if len(s) > MaxVariableBytes {
					return "", fmt.Errorf("uritemplate: variable %q exceeds %d bytes", name, MaxVariableBytes)
				}
			}
			values.Set(name, uritemplate.List(val...))
		case map[string]string:
			kv := make([]string, 0, len(val)*2)
			for k, s := range val {
				kv = append(kv, k, s)
			}
			values.Set(name, uritemplate.Keys(kv...))
		case fmt.Stringer:
			values.Set(name, uritemplate.String(val.String()))
		default:
			values.Set(name, uritemplate.String(fmt.Sprintf("%v", val)))
		}
	}
	return t.upstream.Expand(values)
}

// Match attempts to match uri against the template, returning the captured
// variable map keyed by RFC 6570 variable name (not by the possibly
// disambiguated regexp group name backing it — see compileMatcher). ok is
// false when the uri does not match. A variable referenced more than once
// in the template takes its last captured occurrence.
func (t *Template) Match(uri string) (vars map[string]string, ok bool) {
	m := t.matcher.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}
	vars = make(map[string]string, len(t.varNames))
	for i, group := range t.matcher.SubexpNames() {
		if i == 0 || group == "" {
			continue
		}
		name, known := t.groupVars[group]
		if !known {
			name = group
		}
		vars[name] = m[i]
	}
	return vars, true
}
