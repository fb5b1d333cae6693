package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderScalar(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "hello", "hello"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"integer float", float64(42), "42"},
		{"negative integer float", float64(-7), "-7"},
		{"fractional", 3.14, "3.14"},
		{"int", 5, "5"},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderScalar(tt.in))
		})
	}
}

func TestPyStringLiteral(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "simple", "'simple'"},
		{"empty", "", "''"},
		{"single quote", "don't", `'don\'t'`},
		{"backslash", `a\b`, `'a\\b'`},
		{"newline", "a\nb", `'a\nb'`},
		{"tab", "a\tb", `'a\tb'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pyStringLiteral(tt.in))
		})
	}
}

func TestComposeScript(t *testing.T) {
	assert.Equal(t, "print(1)", composeScript("print(1)", nil))

	got := composeScript("print(sys.argv[1])", []any{"a b", float64(2), true})
	want := "import sys\nsys.argv[1:] = ['a b', '2', 'true']\nprint(sys.argv[1])"
	assert.Equal(t, want, got)
}
