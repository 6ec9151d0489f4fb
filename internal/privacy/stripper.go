// Package privacy removes content that must never leave the process in a
// query: <private> blocks and previously injected recall context.
package privacy

import (
	"regexp"
	"strings"
)

var (
	// privateTagRegex matches <private>...</private> blocks.
	privateTagRegex = regexp.MustCompile(`(?is)<private>.*?</private>`)

	// recallTagRegex matches recall blocks injected into earlier prompts.
	recallTagRegex = regexp.MustCompile(`(?is)<(memory-context|recalled-entries)>.*?</(memory-context|recalled-entries)>`)

	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// StripPrivateTags removes all <private>...</private> content from text.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, " ")
}

// StripRecallTags removes <memory-context> and <recalled-entries> blocks so a
// query never re-embeds the results of an earlier retrieval.
func StripRecallTags(text string) string {
	return recallTagRegex.ReplaceAllStringFunc(text, func(block string) string {
		open := block[1:strings.IndexByte(block, '>')]
		if !strings.HasSuffix(strings.ToLower(block), "</"+strings.ToLower(open)+">") {
			return block
		}
		return " "
	})
}

// IsEntirelyPrivate reports whether nothing but private content remains.
func IsEntirelyPrivate(text string) bool {
	return strings.TrimSpace(StripPrivateTags(text)) == ""
}

// Clean strips private and recall blocks and collapses whitespace. It is
// applied to query text before embedding or lexical matching.
func Clean(text string) string {
	text = StripRecallTags(StripPrivateTags(text))
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
}
