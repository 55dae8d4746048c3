package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures Errorf calls instead of failing the test.
type recordingT struct {
	messages []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.messages = append(r.messages, fmt.Sprintf(format, args...))
}

func TestTextAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		pass     bool
	}{
		{name: "equal", actual: "a\nb", expected: "a\nb", pass: true},
		{name: "trailing whitespace ignored by default", actual: "a  \nb\t", expected: "a\nb", pass: true},
		{name: "surrounding space trimmed by default", actual: "\n\na\n", expected: "a", pass: true},
		{name: "dedented expected", actual: "x:\n  y", expected: "\n\t\tx:\n\t\t  y\n", pass: true},
		{name: "empty lines significant", actual: "a\n\nb", expected: "a\nb", pass: false},
		{name: "empty lines ignored", opts: []TextOption{WithIgnoreEmptyLines(true)}, actual: "a\n\nb", expected: "a\nb", pass: true},
		{name: "different", actual: "a\nc", expected: "a\nb", pass: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			ok := NewTextAsserter(rec, tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.pass, ok)
			assert.Equal(t, tt.pass, len(rec.messages) == 0)
		})
	}
}

func TestTextAsserter_DiffFormat(t *testing.T) {
	diff := NewTextAsserter(t).Diff("one\nthree", "one\ntwo")
	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-two")
	assert.Contains(t, diff, "+three")

	colored := NewTextAsserter(t, WithColors(true)).Diff("a b", "a c")
	assert.Contains(t, colored, "a·b")
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []JSONOption
		actual   string
		expected string
		pass     bool
	}{
		{name: "key order irrelevant", actual: `{"a":1,"b":2}`, expected: `{"b":2,"a":1}`, pass: true},
		{name: "value differs", actual: `{"a":1}`, expected: `{"a":2}`, pass: false},
		{name: "extra key fails by default", actual: `{"a":1,"b":2}`, expected: `{"a":1}`, pass: false},
		{name: "extra key ignored", opts: []JSONOption{WithIgnoreExtraKeys(true)}, actual: `{"a":1,"b":{"c":1}}`, expected: `{"a":1}`, pass: true},
		{name: "ignored field at depth", opts: []JSONOption{WithIgnoredFields("ts")}, actual: `[{"v":1,"ts":5}]`, expected: `[{"v":1,"ts":9}]`, pass: true},
		{name: "root arrays", actual: `[1,2]`, expected: `[1,3]`, pass: false},
		{name: "invalid actual", actual: `{`, expected: `{}`, pass: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			ok := NewJSONAsserter(rec, tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.pass, ok)
		})
	}
}

func TestDedent(t *testing.T) {
	in := `
		name: demo
		steps:
		  - adapter: on
	`
	assert.Equal(t, "name: demo\nsteps:\n  - adapter: on\n", Dedent(in))
}
