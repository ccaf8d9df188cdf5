package playbook

import "strings"

// resolveParams substitutes every {dotted.path} token in a step's params
// template against the event context. Substitution is eager and string-only;
// absent fields render as empty — never as the literal "None" — and missing
// is reported back to the caller so it can be treated as a step failure
// rather than silently proceeding with a blank parameter (spec.md §4.3).
func resolveParams(templates map[string]string, ctx EventContext) (params map[string]any, missing []string) {
	params = make(map[string]any, len(templates))
	for name, tmpl := range templates {
		value, ok := substitute(tmpl, ctx)
		if !ok {
			missing = append(missing, name)
			continue
		}
		params[name] = value
	}
	return params, missing
}

// substitute replaces a single {dotted.path} token. Templates in this engine
// are always exactly one token (spec.md's examples are all of this shape);
// a template containing no token is passed through literally.
func substitute(tmpl string, ctx EventContext) (string, bool) {
	start := strings.IndexByte(tmpl, '{')
	end := strings.IndexByte(tmpl, '}')
	if start < 0 || end < 0 || end < start {
		return tmpl, true
	}
	key := tmpl[start+1 : end]
	value, ok := ctx[key]
	if !ok {
		return "", false
	}
	return tmpl[:start] + value + tmpl[end+1:], true
}
