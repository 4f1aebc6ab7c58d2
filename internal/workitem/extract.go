// Package workitem turns the raw link text of a linked work item into a
// branch name. Both halves (parsing and formatting) are pure so they can be
// exercised without any page.
package workitem

import (
	"regexp"
	"strings"
)

// Record is one linked work item: its numeric identifier and free-text title.
type Record struct {
	ID    string
	Title string
}

// Link text looks like "Bug 4821: Crash on save" - a type word, the numeric
// id, a colon, then the title.
var linePattern = regexp.MustCompile(`^\s*\S+\s+(\d+):\s*(.*\S)\s*$`)

// Parse maps raw link text to a Record. Nested markup can wrap the text
// across lines, so whitespace runs are collapsed before matching. A failed
// match is not an error: the host page may simply not have loaded its data
// yet.
func Parse(text string) (Record, bool) {
	text = strings.Join(strings.Fields(text), " ")
	m := linePattern.FindStringSubmatch(text)
	if m == nil {
		return Record{}, false
	}
	return Record{ID: m[1], Title: m[2]}, true
}
