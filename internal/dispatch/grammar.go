package dispatch

import (
	"strings"
)

// Command is one parsed ```bm fenced block: a verb plus its key=value
// arguments, with an optional multi-line body folded into an implicit
// "body" argument.
type Command struct {
	Verb string
	Args map[string]string
}

// ParseFence parses the contents of a single ```bm ... ``` fence (with the
// opening/closing fence lines already stripped) into a Command. The first
// line is "<verb> [key=value]*"; any remaining lines become the "body" arg.
//
// Duplicate keys (on the first line, or a body colliding with an explicit
// key=value body=...) are INVALID_INPUT, not last-write-wins.
func ParseFence(text string) (Command, error) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return Command{}, newDispatchError(ErrInvalidInput, "empty command fence")
	}

	head := strings.TrimSpace(lines[0])
	fields, err := splitArgs(head)
	if err != nil {
		return Command{}, err
	}
	if len(fields) == 0 {
		return Command{}, newDispatchError(ErrInvalidInput, "missing verb")
	}

	cmd := Command{Verb: fields[0], Args: map[string]string{}}
	for _, f := range fields[1:] {
		k, v, ok := splitKV(f)
		if !ok {
			return Command{}, newDispatchError(ErrInvalidInput, "malformed argument %q, expected key=value", f)
		}
		if _, dup := cmd.Args[k]; dup {
			return Command{}, newDispatchError(ErrInvalidInput, "duplicate argument %q", k)
		}
		cmd.Args[k] = v
	}

	if len(lines) > 1 {
		body := strings.Join(lines[1:], "\n")
		body = strings.TrimSpace(body)
		if body != "" {
			if _, exists := cmd.Args["body"]; exists {
				return Command{}, newDispatchError(ErrInvalidInput, "duplicate argument %q", "body")
			}
			cmd.Args["body"] = body
		}
	}

	return cmd, nil
}

// splitArgs tokenizes a line on whitespace, respecting double-quoted
// segments so a quoted value can contain spaces.
func splitArgs(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == ' ' && !inQuotes:
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if inQuotes {
		return nil, newDispatchError(ErrInvalidInput, "unterminated quote in %q", line)
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields, nil
}

// splitKV splits a "key=value" token, unquoting a double-quoted value.
func splitKV(field string) (key, value string, ok bool) {
	i := strings.IndexByte(field, '=')
	if i <= 0 {
		return "", "", false
	}
	key = field[:i]
	value = field[i+1:]
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		value = value[1 : len(value)-1]
	}
	return key, value, true
}

// ExtractFences pulls every ```bm ... ``` fenced block out of a markdown
// document, in order.
func ExtractFences(markdown string) []string {
	const open = "```bm"
	var out []string
	rest := markdown
	for {
		idx := strings.Index(rest, open)
		if idx < 0 {
			break
		}
		rest = rest[idx+len(open):]
		if len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}
		end := strings.Index(rest, "```")
		if end < 0 {
			break
		}
		out = append(out, rest[:end])
		rest = rest[end+3:]
	}
	return out
}
