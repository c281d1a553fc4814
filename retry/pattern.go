package retry

import "strconv"

// PatternKind identifies how a status pattern matches a response code
type PatternKind int

const (
	// InvalidPattern never matches
	InvalidPattern PatternKind = iota
	// ExactCode matches one status code, e.g. 401 or "401"
	ExactCode
	// HundredsClass matches a whole class of codes, e.g. "5xx"
	HundredsClass
	// TensClass matches ten codes sharing the first two digits, e.g. "40x"
	TensClass
)

// String returns a readable name for the kind
func (k PatternKind) String() string {
	switch k {
	case ExactCode:
		return "exact"
	case HundredsClass:
		return "hundreds"
	case TensClass:
		return "tens"
	default:
		return "invalid"
	}
}

// Pattern is a parsed non-retryable status code matcher.
type Pattern struct {
	kind   PatternKind
	code   int
	prefix int
	raw    string
}

// ExactPattern returns a pattern matching exactly code.
func ExactPattern(code int) Pattern {
	return Pattern{kind: ExactCode, code: code, raw: strconv.Itoa(code)}
}

// ParsePattern parses a pattern string. Accepted forms are a three-digit
// code ("401"), a digit followed by "xx" ("5xx") and two digits followed by
// "x" ("40x"). Anything else yields an InvalidPattern that never matches.
func ParsePattern(s string) Pattern {
	p := Pattern{kind: InvalidPattern, raw: s}
	if len(s) != 3 || !isDigit(s[0]) {
		return p
	}

	switch {
	case isDigit(s[1]) && isDigit(s[2]):
		p.kind = ExactCode
		p.code = digits(s)
	case s[1:] == "xx":
		p.kind = HundredsClass
		p.prefix = digits(s[:1])
	case isDigit(s[1]) && s[2] == 'x':
		p.kind = TensClass
		p.prefix = digits(s[:2])
	}
	return p
}

// Kind reports the pattern kind
func (p Pattern) Kind() PatternKind { return p.kind }

// String returns the pattern as it was written
func (p Pattern) String() string { return p.raw }

// Match reports whether status satisfies the pattern.
func (p Pattern) Match(status int) bool {
	switch p.kind {
	case ExactCode:
		return status == p.code
	case HundredsClass:
		return isStatusCode(status) && status/100 == p.prefix
	case TensClass:
		return isStatusCode(status) && status/10 == p.prefix
	default:
		return false
	}
}

// Patterns is a set of non-retryable status matchers.
type Patterns []Pattern

// ParsePatterns parses every entry; malformed entries are kept as invalid
// patterns so they fail open.
func ParsePatterns(entries []string) Patterns {
	if len(entries) == 0 {
		return nil
	}
	out := make(Patterns, 0, len(entries))
	for _, e := range entries {
		out = append(out, ParsePattern(e))
	}
	return out
}

// CodePatterns builds exact patterns from numeric codes.
func CodePatterns(codes []int) Patterns {
	if len(codes) == 0 {
		return nil
	}
	out := make(Patterns, 0, len(codes))
	for _, c := range codes {
		out = append(out, ExactPattern(c))
	}
	return out
}

// Match reports whether any pattern matches status. An empty set never matches.
func (ps Patterns) Match(status int) bool {
	for _, p := range ps {
		if p.Match(status) {
			return true
		}
	}
	return false
}

// Invalid returns the raw text of every pattern that failed to parse
func (ps Patterns) Invalid() []string {
	var bad []string
	for _, p := range ps {
		if p.kind == InvalidPattern {
			bad = append(bad, p.raw)
		}
	}
	return bad
}

// digits converts a string already checked to hold only ASCII digits
func digits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

func isStatusCode(status int) bool {
	return status >= 100 && status <= 999
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
