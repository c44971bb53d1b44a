package uritemplate

import (
	"fmt"
	"regexp"
	"strings"
)

var exprPattern = regexp.MustCompile(`\{([+#./;?&]?)([^}]*)\}`)

// compileMatcher turns a level-2 RFC 6570 template into an anchored regular
// expression with one named capture group per variable, implementing the
// inverse-matching half that the upstream expansion-only library does not
// provide. groupVars maps each regexp group name back to the RFC 6570
// variable name it captures, since a variable referenced more than once in
// the same template compiles to more than one group (see uniqueGroupName).
func compileMatcher(raw string) (pattern string, names []string, groupVars map[string]string, err error) {
	var b strings.Builder
	b.WriteByte('^')

	last := 0
	seen := map[string]bool{}
	groupVars = map[string]string{}

	for _, loc := range exprPattern.FindAllStringSubmatchIndex(raw, -1) {
		start, end := loc[0], loc[1]
		operator := raw[loc[2]:loc[3]]
		varlist := raw[loc[4]:loc[5]]

		// literal text preceding this expression
		b.WriteString(regexp.QuoteMeta(raw[last:start]))
		last = end

		vars := strings.Split(varlist, ",")
		charClass, joiner, prefix := classFor(operator)

		if operator == "?" || operator == "&" {
			// query/continuation: name=value pairs joined by '&', the whole
			// expression optionally preceded by '?' or '&'.
			b.WriteString(regexp.QuoteMeta(prefix))
			for i, v := range vars {
				name := sanitizeVarName(v)
				if i > 0 {
					b.WriteString("&")
				}
				group := uniqueGroupName(name, seen)
				groupVars[group] = name
				fmt.Fprintf(&b, "%s=(?P<%s>%s)", regexp.QuoteMeta(name), group, charClass)
				names = append(names, name)
			}
			continue
		}

		if prefix != "" {
			b.WriteString(regexp.QuoteMeta(prefix))
		}
		for i, v := range vars {
			name := sanitizeVarName(v)
			if i > 0 {
				b.WriteString(regexp.QuoteMeta(joiner))
			}
			group := uniqueGroupName(name, seen)
			groupVars[group] = name
			fmt.Fprintf(&b, "(?P<%s>%s)", group, charClass)
			names = append(names, name)
		}
	}

	b.WriteString(regexp.QuoteMeta(raw[last:]))
	b.WriteByte('$')
	return b.String(), names, groupVars, nil
}

// classFor returns the capture character class, the multi-variable joiner,
// and the literal prefix emitted before the expression's expansion, for a
// given RFC 6570 operator.
func classFor(operator string) (charClass, joiner, prefix string) {
	switch operator {
	case "+":
		return `[^?#]+?`, ",", ""
	case "#":
		return `.+?`, ",", "#"
	case "/":
		return `[^/]+?`, "/", "/"
	case ".":
		return `[^./]+?`, ".", "."
	case ";":
		return `[^;/]+?`, ";", ";"
	case "?":
		return `[^&]*`, "&", "?"
	case "&":
		return `[^&]*`, "&", "&"
	default:
		return `[^/]+?`, ",", ""
	}
}

// sanitizeVarName strips RFC 6570 modifiers (":N", "*") from a variable
// reference, leaving only the bare variable name used for matching.
func sanitizeVarName(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexAny(v, ":*"); i >= 0 {
		v = v[:i]
	}
	return v
}

// uniqueGroupName produces a valid, collision-free Go regexp group name for
// a template variable (the same variable may legitimately repeat across
// expressions; every occurrence becomes its own capturing group, and
// later occurrences get a numeric suffix to keep the regexp valid).
func uniqueGroupName(name string, seen map[string]bool) string {
	safe := regexp.MustCompile(`[^A-Za-z0-9_]`).ReplaceAllString(name, "_")
	if safe == "" {
		safe = "v"
	}
	if !seen[safe] {
		seen[safe] = true
		return safe
	}
	// Duplicate variable reference within the template: disambiguate with a
	// suffix so the compiled regexp remains valid. compileMatcher's groupVars
	// map records the original name so Match can undo this renaming.
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", safe, i)
		if !seen[candidate] {
			seen[candidate] = true
			return candidate
		}
	}
}
