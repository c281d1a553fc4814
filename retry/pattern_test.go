package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		input string
		kind  PatternKind
	}{
		{"401", ExactCode},
		{"5xx", HundredsClass},
		{"40x", TensClass},
		{"50x", TensClass},
		{"", InvalidPattern},
		{"5XX", InvalidPattern},
		{"4x", InvalidPattern},
		{"xx5", InvalidPattern},
		{"4xxx", InvalidPattern},
		{"40xx", InvalidPattern},
		{"a0x", InvalidPattern},
		{"abc", InvalidPattern},
		{" 401", InvalidPattern},
		{"0401", InvalidPattern},
		{"40", InvalidPattern},
		{"4010", InvalidPattern},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p := ParsePattern(tt.input)
			assert.Equal(t, tt.kind, p.Kind())
			assert.Equal(t, tt.input, p.String())
		})
	}
}

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern Pattern
		status  int
		want    bool
	}{
		{"5xx matches 500", ParsePattern("5xx"), 500, true},
		{"5xx matches 599", ParsePattern("5xx"), 599, true},
		{"5xx matches 501", ParsePattern("5xx"), 501, true},
		{"5xx matches 510", ParsePattern("5xx"), 510, true},
		{"5xx does not match 410", ParsePattern("5xx"), 410, false},
		{"4xx matches 404", ParsePattern("4xx"), 404, true},
		{"4xx matches 410", ParsePattern("4xx"), 410, true},
		{"40x matches 401", ParsePattern("40x"), 401, true},
		{"40x matches 409", ParsePattern("40x"), 409, true},
		{"40x does not match 410", ParsePattern("40x"), 410, false},
		{"40x does not match 500", ParsePattern("40x"), 500, false},
		{"50x matches 501", ParsePattern("50x"), 501, true},
		{"50x does not match 510", ParsePattern("50x"), 510, false},
		{"exact 401 matches 401", ExactPattern(401), 401, true},
		{"exact 401 does not match 402", ExactPattern(401), 402, false},
		{"exact string 401 matches 401", ParsePattern("401"), 401, true},
		{"exact string 401 does not match 404", ParsePattern("401"), 404, false},
		{"5xx does not match 5", ParsePattern("5xx"), 5, false},
		{"5xx does not match 50", ParsePattern("5xx"), 50, false},
		{"5xx does not match 5000", ParsePattern("5xx"), 5000, false},
		{"40x does not match 4000", ParsePattern("40x"), 4000, false},
		{"40x does not match 40", ParsePattern("40x"), 40, false},
		{"0xx does not match 0", ParsePattern("0xx"), 0, false},
		{"invalid never matches", ParsePattern("5XX"), 500, false},
		{"zero value never matches", Pattern{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pattern.Match(tt.status))
		})
	}
}

func TestPatternsMatch(t *testing.T) {
	t.Run("empty set never matches", func(t *testing.T) {
		var ps Patterns
		assert.False(t, ps.Match(500))
		assert.False(t, ParsePatterns(nil).Match(401))
	})

	t.Run("mixed numbers and strings", func(t *testing.T) {
		ps := append(CodePatterns([]int{400}), ParsePatterns([]string{"500", "501"})...)
		ps = append(ps, ExactPattern(401))
		assert.True(t, ps.Match(401))
		assert.True(t, ps.Match(501))
		assert.False(t, ps.Match(404))
	})

	t.Run("mixed without the status", func(t *testing.T) {
		ps := append(ParsePatterns([]string{"30x", "500", "501"}), ExactPattern(400))
		assert.False(t, ps.Match(401))
	})

	t.Run("any entry matching is enough", func(t *testing.T) {
		ps := append(ParsePatterns([]string{"502", "501"}), CodePatterns([]int{500, 400})...)
		assert.True(t, ps.Match(502))
	})

	t.Run("malformed entries fail open", func(t *testing.T) {
		ps := ParsePatterns([]string{"4XX", "x01", "5xx"})
		assert.False(t, ps.Match(404))
		assert.True(t, ps.Match(503))
		assert.Equal(t, []string{"4XX", "x01"}, ps.Invalid())
	})
}
