package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextAsserter_DefaultOptions(t *testing.T) {
	opts := NewTextAsserter(t).GetOptions()
	assert.False(t, opts.IgnoreTrailingWhitespace)
	assert.False(t, opts.IgnoreEmptyLines)
	assert.False(t, opts.TrimSpace)
	assert.False(t, opts.EnableColors)
}

func TestTextAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{name: "identical", actual: "a\nb", expected: "a\nb", match: true},
		{name: "different line", actual: "a\nc", expected: "a\nb", match: false},
		{name: "trailing whitespace matters by default", actual: "a \nb", expected: "a\nb", match: false},
		{
			name:   "trailing whitespace ignored",
			opts:   []TextOption{WithIgnoreTrailingWhitespace(true)},
			actual: "a  \nb\t", expected: "a\nb", match: true,
		},
		{
			name:   "empty lines ignored",
			opts:   []TextOption{WithIgnoreEmptyLines(true)},
			actual: "a\n\n\nb", expected: "a\nb", match: true,
		},
		{
			name:   "trim space",
			opts:   []TextOption{WithTrimSpace(true)},
			actual: "\n\na\nb\n", expected: "a\nb", match: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				require.Empty(t, diff)
			} else {
				require.Contains(t, diff, "--- expected")
				require.Contains(t, diff, "+++ actual")
			}
		})
	}
}

func TestTextAsserter_ColoredDiffShowsWhitespace(t *testing.T) {
	diff := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("a b", "ab")
	require.Contains(t, diff, "a·b")
	require.Contains(t, diff, "\x1b[")
}

func TestTextAsserter_AssertReportsFailure(t *testing.T) {
	rt := &recordingT{}
	require.False(t, NewTextAsserter(rt).Assert("actual", "expected"))
	require.Len(t, rt.failures, 1)
}
