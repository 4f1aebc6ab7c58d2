package workitem

import (
	"strings"
	"testing"

	"autobranch/internal/config"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"plain words", "hello world example", "Hello-World-Example"},
		{"punctuation becomes separators", "Fix: login/logout   bug!!", "Fix-Login-Logout-Bug"},
		{"lowercase slash", "fix: login/logout bug", "Fix-Login-Logout-Bug"},
		{"hyphen splits tokens", "re-use the parser", "Re-Use-The-Parser"},
		{"already formatted", "Fix-Login-Logout-Bug", "Fix-Login-Logout-Bug"},
		{"mixed case preserved after first rune", "enable HTTPs support", "Enable-HTTPs-Support"},
		{"empty", "", ""},
		{"only punctuation", "...!!!", ""},
		{"digits survive", "bump to v2 beta", "Bump-To-V2-Beta"},
		{"tabs and newlines collapse", "one\ttwo\nthree", "One-Two-Three"},
		{"non-ascii stripped", "café menu", "Caf-Menu"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(tt.title, config.DefaultPunctuation)
			if got != tt.want {
				t.Errorf("Format(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestFormatOutputCharset(t *testing.T) {
	inputs := []string{
		"Fix: login/logout bug!!",
		"weird ☃ snowman ~ title",
		"   spaces   everywhere   ",
		"(parens) [brackets] {braces}",
	}
	for _, in := range inputs {
		got := Format(in, config.DefaultPunctuation)
		for _, r := range got {
			ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-'
			if !ok {
				t.Errorf("Format(%q) = %q contains disallowed rune %q", in, got, r)
			}
		}
		if strings.HasPrefix(got, "-") || strings.HasSuffix(got, "-") {
			t.Errorf("Format(%q) = %q has a dangling separator", in, got)
		}
	}
}

func TestFormatIdempotent(t *testing.T) {
	inputs := []string{
		"Fix: login/logout bug",
		"hello world",
		"re-use the parser",
	}
	for _, in := range inputs {
		once := Format(in, config.DefaultPunctuation)
		twice := Format(once, config.DefaultPunctuation)
		if once != twice {
			t.Errorf("Format not stable for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestFormatCustomPunctuation(t *testing.T) {
	// With hyphen in the punctuation set it becomes a separator like any
	// other, which is indistinguishable in the output.
	got := Format("re-use: tokens", config.DefaultPunctuation+"-")
	if got != "Re-Use-Tokens" {
		t.Errorf("got %q", got)
	}

	// With an empty set, colon and friends are simply stripped.
	got = Format("fix: bug", "")
	if got != "Fix-Bug" {
		t.Errorf("got %q", got)
	}
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		rec    Record
		want   string
	}{
		{"typical", "feature/", Record{ID: "100", Title: "Add login page"}, "feature/100-Add-Login-Page"},
		{"empty title", "feature/", Record{ID: "55", Title: ""}, "feature/55"},
		{"title formats to nothing", "feature/", Record{ID: "55", Title: "!!!"}, "feature/55"},
		{"no prefix", "", Record{ID: "7", Title: "quick fix"}, "7-Quick-Fix"},
		{"bugfix prefix", "bugfix/", Record{ID: "4821", Title: "Crash on save"}, "bugfix/4821-Crash-On-Save"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BranchName(tt.prefix, tt.rec, config.DefaultPunctuation)
			if got != tt.want {
				t.Errorf("BranchName(%q, %+v) = %q, want %q", tt.prefix, tt.rec, got, tt.want)
			}
		})
	}
}
