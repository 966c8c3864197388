package resolver

import (
	"testing"
	"time"
)

func TestNormalizeTextIdempotent(t *testing.T) {
	inputs := []string{
		"Will BTC hit $100k by 12/31/2024?",
		"  Already   normalized text  ",
		"UPPER-case & symbols!!!",
		"",
		"unicode: café über",
	}
	for _, s := range inputs {
		once := NormalizeText(s)
		twice := NormalizeText(once)
		if once != twice {
			t.Errorf("NormalizeText not idempotent for %q: %q != %q", s, once, twice)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Will BTC hit $100k by 12/31/2024?", "will btc hit 100k by 12 31 2024"},
		{"A--B  C", "a b c"},
		{"  trim me  ", "trim me"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeText(tc.in); got != tc.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTokenizeFilters(t *testing.T) {
	n := Normalize("Will the Lakers win on 12/31/2024", "by 10 points")
	for _, tok := range n.Tokens {
		if len(tok) <= 2 {
			t.Errorf("short token %q survived", tok)
		}
		if isNumeric(tok) {
			t.Errorf("numeric token %q survived", tok)
		}
	}
	want := map[string]bool{"will": true, "the": true, "lakers": true, "win": true, "points": true}
	for _, tok := range n.Tokens {
		if !want[tok] {
			t.Errorf("unexpected token %q", tok)
		}
	}
}

func TestExtractDates(t *testing.T) {
	cases := []struct {
		in   string
		want []time.Time
	}{
		{
			"by 12/31/2024?",
			[]time.Time{time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
		},
		{
			"resolves 2024-12-31 EOD",
			[]time.Time{time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
		},
		{
			"by December 31, 2024",
			[]time.Time{time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
		},
		{
			"by Dec 31, 2024",
			[]time.Time{time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
		},
		{"no dates here", nil},
		{"bad date 13/45/2024", nil}, // month 13 discarded
	}
	for _, tc := range cases {
		got := extractDates(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("extractDates(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if !got[i].Equal(tc.want[i]) {
				t.Errorf("extractDates(%q)[%d] = %v, want %v", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestMakeDateRejectsOverflow(t *testing.T) {
	if _, ok := makeDate(2024, 2, 30); ok {
		t.Error("Feb 30 accepted")
	}
	if _, ok := makeDate(2024, 2, 29); !ok {
		t.Error("leap day rejected")
	}
}
