package dom

import "strings"

// The Memory tree supports the selector subset the watcher actually uses:
// an optional tag name followed by any number of #id, .class, [attr],
// [attr=val], and [attr*=val] parts. Values may be quoted.

type simpleSelector struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

type attrMatch struct {
	name      string
	value     string
	substring bool // [attr*=val] vs [attr=val]
	present   bool // bare [attr]
}

func parseSelector(s string) simpleSelector {
	var sel simpleSelector
	s = strings.TrimSpace(s)

	i := 0
	// Leading tag name
	for i < len(s) && s[i] != '#' && s[i] != '.' && s[i] != '[' {
		i++
	}
	sel.tag = strings.ToLower(s[:i])

	for i < len(s) {
		switch s[i] {
		case '#':
			j := i + 1
			for j < len(s) && s[j] != '.' && s[j] != '[' && s[j] != '#' {
				j++
			}
			sel.id = s[i+1 : j]
			i = j
		case '.':
			j := i + 1
			for j < len(s) && s[j] != '.' && s[j] != '[' && s[j] != '#' {
				j++
			}
			sel.classes = append(sel.classes, s[i+1:j])
			i = j
		case '[':
			j := strings.IndexByte(s[i:], ']')
			if j < 0 {
				return sel
			}
			body := s[i+1 : i+j]
			i += j + 1
			sel.attrs = append(sel.attrs, parseAttrMatch(body))
		default:
			i++
		}
	}
	return sel
}

func parseAttrMatch(body string) attrMatch {
	if name, val, ok := strings.Cut(body, "*="); ok {
		return attrMatch{name: name, value: unquote(val), substring: true}
	}
	if name, val, ok := strings.Cut(body, "="); ok {
		return attrMatch{name: name, value: unquote(val)}
	}
	return attrMatch{name: body, present: true}
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func (sel simpleSelector) matches(n *MemoryNode) bool {
	if sel.tag != "" && sel.tag != strings.ToLower(n.tag) {
		return false
	}
	if sel.id != "" && n.attrs["id"] != sel.id {
		return false
	}
	if len(sel.classes) > 0 {
		have := strings.Fields(n.attrs["class"])
		for _, want := range sel.classes {
			found := false
			for _, c := range have {
				if c == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	for _, am := range sel.attrs {
		got, ok := n.attrs[am.name]
		if !ok {
			return false
		}
		switch {
		case am.present:
			// attribute existence is enough
		case am.substring:
			if !strings.Contains(got, am.value) {
				return false
			}
		default:
			if got != am.value {
				return false
			}
		}
	}
	return true
}
