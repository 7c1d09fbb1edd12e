// Package proof implements the normalization/salvage/classification rules
// that turn free-form proof input into canonical CMD/LINK/FILE receipts,
// detect placeholders, and map receipts onto checkpoint axes for the
// step-closure gate.
package proof

import (
	"regexp"
	"strings"

	"branchmind/internal/logging"
)

// Kind is a canonical receipt prefix.
type Kind string

const (
	KindCMD  Kind = "CMD"
	KindLink Kind = "LINK"
	// KindFile is the supplemented receipt kind from the original Rust
	// macro handler: FILE:<path>, used by the strict-input-mode
	// fallback to reference a stderr log.
	KindFile Kind = "FILE"
)

// Axis is one of the five checkpoint axes a receipt can satisfy.
type Axis string

const (
	AxisCriteria Axis = "criteria"
	AxisTests    Axis = "tests"
	AxisSecurity Axis = "security"
	AxisPerf     Axis = "perf"
	AxisDocs     Axis = "docs"
)

// ParsePolicy controls how aggressively free-form input is salvaged.
type ParsePolicy string

const (
	PolicyLenient ParsePolicy = "lenient"
	PolicyStrict  ParsePolicy = "strict"
)

// Receipt is one normalized proof line.
type Receipt struct {
	Kind        Kind
	Payload     string
	TaggedAxis  Axis // "" unless the line carried an explicit SEC:/PERF:/DOC: tag
	Placeholder bool
	Raw         string
}

// Input is the tagged-sum-type payload a proof/proof_input argument can
// take: free text, a list of lines, or a structured {checks, attachments}
// object.
type Input struct {
	Text       *string
	Lines      []string
	Structured *Structured
}

// Structured is the {checks, attachments} shape of a proof argument.
type Structured struct {
	Checks      []string
	Attachments []string
}

// TextInput wraps a free-form string proof argument.
func TextInput(s string) Input { return Input{Text: &s} }

// LinesInput wraps a string-array proof argument.
func LinesInput(lines []string) Input { return Input{Lines: lines} }

// StructuredInput wraps a {checks, attachments} proof argument.
func StructuredInput(checks, attachments []string) Input {
	return Input{Structured: &Structured{Checks: checks, Attachments: attachments}}
}

var commandVerbs = map[string]bool{
	"cargo": true, "go": true, "npm": true, "pnpm": true, "yarn": true, "bun": true,
	"make": true, "just": true, "git": true, "rg": true, "python": true, "python3": true,
	"node": true, "deno": true, "docker": true, "kubectl": true, "helm": true,
	"terraform": true, "pytest": true,
}

var (
	placeholderBracketRe = regexp.MustCompile(`(?i)^<\s*(fill|todo|tbd)`)
	leadingOrdinalRe     = regexp.MustCompile(`^\d+[.)]\s*`)
)

// rawLines splits an Input into candidate receipt lines, in order:
// Text is split on newlines; Lines is used as-is; Structured flattens
// Checks then Attachments.
func rawLines(in Input) []string {
	var out []string
	if in.Text != nil {
		out = append(out, strings.Split(*in.Text, "\n")...)
	}
	out = append(out, in.Lines...)
	if in.Structured != nil {
		out = append(out, in.Structured.Checks...)
		out = append(out, in.Structured.Attachments...)
	}
	return out
}

// stripPrefix removes the markdown-ish bullet/quote/ordinal prefixes and
// leading "$ "/"> " shell-prompt markers.
func stripPrefix(line string) string {
	s := strings.TrimSpace(line)
	for {
		trimmed := strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(trimmed, "- "):
			s = trimmed[2:]
		case strings.HasPrefix(trimmed, "* "):
			s = trimmed[2:]
		case strings.HasPrefix(trimmed, "+ "):
			s = trimmed[2:]
		case strings.HasPrefix(trimmed, "• "):
			s = trimmed[len("• "):]
		case strings.HasPrefix(trimmed, "> "):
			s = trimmed[2:]
		case strings.HasPrefix(trimmed, "$ "):
			s = trimmed[2:]
		case leadingOrdinalRe.MatchString(trimmed):
			s = leadingOrdinalRe.ReplaceAllString(trimmed, "")
		default:
			return strings.TrimSpace(trimmed)
		}
	}
}

// isPlaceholder reports whether payload is a stand-in like "TODO" or "..."
// rather than a real receipt.
func isPlaceholder(payload string) bool {
	p := strings.TrimSpace(payload)
	if p == "" || p == "..." {
		return true
	}
	switch strings.ToLower(p) {
	case "todo", "tbd", "placeholder":
		return true
	}
	return placeholderBracketRe.MatchString(p)
}

var axisTagRe = regexp.MustCompile(`(?i)^(SEC|PERF|DOC):\s*`)

func axisFromTag(tag string) Axis {
	switch strings.ToUpper(tag) {
	case "SEC":
		return AxisSecurity
	case "PERF":
		return AxisPerf
	case "DOC":
		return AxisDocs
	default:
		return ""
	}
}

var kindPrefixRe = regexp.MustCompile(`(?i)^(CMD|LINK|FILE):\s*`)

func looksLikeURL(tok string) bool {
	return strings.HasPrefix(tok, "http://") || strings.HasPrefix(tok, "https://")
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// classify turns one raw line into a Receipt, or (Receipt{}, false) if the
// line carries no recognizable receipt.
func classify(raw string) (Receipt, bool) {
	line := stripPrefix(raw)
	if line == "" {
		return Receipt{}, false
	}

	var taggedAxis Axis
	if m := axisTagRe.FindStringSubmatch(line); m != nil {
		taggedAxis = axisFromTag(m[1])
		line = strings.TrimSpace(line[len(m[0]):])
	}

	if m := kindPrefixRe.FindStringSubmatch(line); m != nil {
		payload := strings.TrimSpace(line[len(m[0]):])
		kind := Kind(strings.ToUpper(m[1]))
		return Receipt{Kind: kind, Payload: payload, TaggedAxis: taggedAxis, Placeholder: isPlaceholder(payload), Raw: raw}, true
	}

	if looksLikeURL(line) {
		return Receipt{Kind: KindLink, Payload: line, TaggedAxis: taggedAxis, Placeholder: isPlaceholder(line), Raw: raw}, true
	}

	if commandVerbs[firstToken(line)] {
		return Receipt{Kind: KindCMD, Payload: line, TaggedAxis: taggedAxis, Placeholder: isPlaceholder(line), Raw: raw}, true
	}

	if taggedAxis != "" {
		// an explicit SEC:/PERF:/DOC: tag with no further recognizable
		// kind still counts, treated as a LINK-shaped receipt.
		return Receipt{Kind: KindLink, Payload: line, TaggedAxis: taggedAxis, Placeholder: isPlaceholder(line), Raw: raw}, true
	}

	return Receipt{}, false
}

// Result is the outcome of normalizing a proof/proof_input argument.
type Result struct {
	Receipts          []Receipt
	AxisPresent       map[Axis]bool // non-placeholder receipts only
	HasNonPlaceholder bool
	Ambiguous         bool // strict policy found nothing usable
}

// Normalize implements end to end: split, strip, classify,
// placeholder-detect, and compute axis presence. Every receipt's kind
// satisfies AxisTests by default (rule 7); an explicit SEC:/PERF:/DOC: tag
// additionally sets that axis.
func Normalize(in Input, policy ParsePolicy) Result {
	res := Result{AxisPresent: map[Axis]bool{}}
	for _, raw := range rawLines(in) {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		r, ok := classify(raw)
		if !ok {
			continue
		}
		res.Receipts = append(res.Receipts, r)
		if !r.Placeholder {
			res.HasNonPlaceholder = true
			res.AxisPresent[AxisTests] = true
			if r.TaggedAxis != "" {
				res.AxisPresent[r.TaggedAxis] = true
			}
		}
	}
	if policy == PolicyStrict && !res.HasNonPlaceholder {
		res.Ambiguous = true
	}
	logging.ProofDebug("normalized %d receipt(s), non_placeholder=%v policy=%s", len(res.Receipts), res.HasNonPlaceholder, policy)
	return res
}

// SalvageFromText scans free-form note text for embedded receipts (the
// "proof in note" path). It never fails on ambiguity: salvage is always
// best-effort regardless of parse policy.
func SalvageFromText(text string) []Receipt {
	res := Normalize(TextInput(text), PolicyLenient)
	return res.Receipts
}

// HasCMDAndLink reports whether both a CMD and a LINK receipt are present
// and non-placeholder among a receipt set — the soft lint condition for
// PROOF_WEAK.
func HasCMDAndLink(receipts []Receipt) bool {
	var hasCMD, hasLink bool
	for _, r := range receipts {
		if r.Placeholder {
			continue
		}
		switch r.Kind {
		case KindCMD:
			hasCMD = true
		case KindLink:
			hasLink = true
		}
	}
	return hasCMD && hasLink
}

// MergeAxisPresent ORs b into a, returning a (mutated in place).
func MergeAxisPresent(a, b map[Axis]bool) map[Axis]bool {
	if a == nil {
		a = map[Axis]bool{}
	}
	for k, v := range b {
		if v {
			a[k] = true
		}
	}
	return a
}

// ParsePolicyOrDefault normalizes a possibly-empty policy string.
func ParsePolicyOrDefault(s, def string) ParsePolicy {
	if s == "" {
		s = def
	}
	switch strings.ToLower(s) {
	case string(PolicyStrict):
		return PolicyStrict
	default:
		return PolicyLenient
	}
}

// FormatReceipt renders a receipt back into its canonical "KIND:payload"
// text form, used when persisting salvaged refs onto a task.
func FormatReceipt(r Receipt) string {
	return string(r.Kind) + ":" + r.Payload
}

// PlaceholderFor returns a placeholder receipt string for an axis missing a
// required proof, embedded in the retry command.
func PlaceholderFor(axis Axis) string {
	if axis == AxisTests {
		return "CMD:<fill command>"
	}
	tag := map[Axis]string{AxisSecurity: "SEC", AxisPerf: "PERF", AxisDocs: "DOC", AxisCriteria: "DOC"}[axis]
	if tag == "" {
		return "LINK:<fill evidence>"
	}
	return tag + ":<fill evidence>"
}
