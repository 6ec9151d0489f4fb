package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripPrivateTags(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no tags", input: "Hello world", expected: "Hello world"},
		{name: "single tag", input: "Hello <private>secret</private> world", expected: "Hello   world"},
		{name: "multiline", input: "a <private>\nline\n</private> b", expected: "a   b"},
		{name: "case insensitive", input: "a <PRIVATE>x</Private> b", expected: "a   b"},
		{name: "unclosed", input: "Hello <private>unclosed", expected: "Hello <private>unclosed"},
		{name: "stray closing", input: "Hello </private> world", expected: "Hello </private> world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripPrivateTags(tt.input))
		})
	}
}

func TestStripRecallTags(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "memory context", input: "fix <memory-context>old results</memory-context>it", expected: "fix  it"},
		{name: "recalled entries", input: "<recalled-entries>\n- a\n</recalled-entries>query", expected: " query"},
		{name: "mismatched pair kept", input: "<memory-context>x</recalled-entries>", expected: "<memory-context>x</recalled-entries>"},
		{name: "private untouched", input: "<private>x</private>", expected: "<private>x</private>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripRecallTags(tt.input))
		})
	}
}

func TestIsEntirelyPrivate(t *testing.T) {
	assert.True(t, IsEntirelyPrivate("<private>all of it</private>"))
	assert.True(t, IsEntirelyPrivate("  <private>a</private>\n<private>b</private> "))
	assert.True(t, IsEntirelyPrivate(""))
	assert.False(t, IsEntirelyPrivate("visible <private>hidden</private>"))
}

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "  how do I   deploy\n", expected: "how do I deploy"},
		{name: "both tags", input: "deploy <private>token=abc</private> steps <memory-context>prior</memory-context>", expected: "deploy steps"},
		{name: "only private", input: "<private>secret</private>", expected: ""},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Clean(tt.input))
		})
	}
}
