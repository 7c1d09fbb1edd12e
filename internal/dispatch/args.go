package dispatch

import "branchmind/internal/proof"

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func argBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func argStringSlice(args map[string]any, key string) []string {
	raw, ok := args[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func argRevisionPtr(args map[string]any, key string) *int64 {
	switch v := args[key].(type) {
	case int:
		r := int64(v)
		return &r
	case int64:
		return &v
	case float64:
		r := int64(v)
		return &r
	}
	return nil
}

// argProofInput builds a proof.Input from the named argument (either "proof"
// or "proof_input" — §4.4.2 treats them as two distinct wire arguments),
// accepting a plain string (free text salvage), a []string (one receipt per
// line), a structured {checks, attachments} object, or an axis-keyed map
// (the shape the portal's own retry command emits, e.g.
// {"tests": "CMD:<fill command>"}), which is flattened into lines.
func argProofInput(args map[string]any, key string) *proof.Input {
	raw, ok := args[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		in := proof.TextInput(v)
		return &in
	case []string:
		in := proof.LinesInput(v)
		return &in
	case []any:
		lines := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				lines = append(lines, s)
			}
		}
		in := proof.LinesInput(lines)
		return &in
	case map[string]any:
		if _, hasChecks := v["checks"]; hasChecks {
			checks := argStringSlice(v, "checks")
			attachments := argStringSlice(v, "attachments")
			in := proof.StructuredInput(checks, attachments)
			return &in
		}
		if _, hasAttachments := v["attachments"]; hasAttachments {
			checks := argStringSlice(v, "checks")
			attachments := argStringSlice(v, "attachments")
			in := proof.StructuredInput(checks, attachments)
			return &in
		}
		// Axis-keyed map (portal retry suggestion shape): flatten values
		// into lines, in a deterministic axis order.
		lines := make([]string, 0, len(v))
		for _, axis := range axisKeyOrder {
			if s, ok := v[axis].(string); ok {
				lines = append(lines, s)
			}
		}
		for k, e := range v {
			if isKnownAxis(k) {
				continue
			}
			if s, ok := e.(string); ok {
				lines = append(lines, s)
			}
		}
		in := proof.LinesInput(lines)
		return &in
	}
	return nil
}

// axisKeyOrder fixes the deterministic order axis-keyed proof maps are
// flattened in, matching the axisOrder internal/steps gates axes in.
var axisKeyOrder = []string{"criteria", "tests", "security", "perf", "docs"}

func isKnownAxis(k string) bool {
	for _, a := range axisKeyOrder {
		if a == k {
			return true
		}
	}
	return false
}
