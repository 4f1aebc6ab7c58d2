package workitem

import (
	"strings"
	"unicode"
)

// Format normalizes a work-item title into a hyphen-joined token sequence:
// configured punctuation becomes spaces, anything outside alphanumerics,
// space, and hyphen is stripped, whitespace runs collapse, and each token
// gets its first rune capitalized (the rest is left untouched).
//
// Punctuation substitution runs before stripping; the order matters for
// characters in neither set.
func Format(title, punctuation string) string {
	var cleaned strings.Builder
	for _, r := range title {
		switch {
		case strings.ContainsRune(punctuation, r):
			cleaned.WriteByte(' ')
		case r == ' ' || r == '-' || isAlnum(r):
			cleaned.WriteRune(r)
		case unicode.IsSpace(r):
			cleaned.WriteByte(' ')
		}
	}

	tokens := strings.FieldsFunc(cleaned.String(), func(r rune) bool {
		return r == ' ' || r == '-'
	})

	for i, tok := range tokens {
		runes := []rune(tok)
		runes[0] = unicode.ToUpper(runes[0])
		tokens[i] = string(runes)
	}
	return strings.Join(tokens, "-")
}

// BranchName derives the final field value: prefix + id + "-" + formatted
// title. A title that formats to nothing yields just prefix + id.
func BranchName(prefix string, rec Record, punctuation string) string {
	formatted := Format(rec.Title, punctuation)
	if formatted == "" {
		return prefix + rec.ID
	}
	return prefix + rec.ID + "-" + formatted
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
