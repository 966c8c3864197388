package resolver

import (
	"testing"
	"time"
)

func TestSimilarityIdentity(t *testing.T) {
	n := Normalize("Will BTC hit $100k by 12/31/2024?", "")
	if got := Similarity(n, n); got != 1.0 {
		t.Errorf("Similarity(m, m) = %v, want 1.0", got)
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	a := Normalize("Will BTC hit $100k by 12/31/2024?", "")
	b := Normalize("Will Bitcoin reach $100k in 2024?", "resolves December 31, 2024")
	if ab, ba := Similarity(a, b), Similarity(b, a); ab != ba {
		t.Errorf("Similarity not symmetric: %v != %v", ab, ba)
	}
}

func TestSimilarityRange(t *testing.T) {
	pairs := [][2]string{
		{"Will BTC hit $100k", "completely unrelated election question"},
		{"same text", "same text"},
		{"", ""},
	}
	for _, p := range pairs {
		s := Similarity(Normalize(p[0], ""), Normalize(p[1], ""))
		if s < 0 || s > 1 {
			t.Errorf("Similarity(%q, %q) = %v out of [0,1]", p[0], p[1], s)
		}
	}
}

func TestDateSimilarityBoundaries(t *testing.T) {
	base := time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		a, b []time.Time
		want float64
	}{
		{"both empty", nil, nil, 1.0},
		{"one empty", []time.Time{base}, nil, 0.5},
		{"23h59m apart", []time.Time{base}, []time.Time{base.Add(23*time.Hour + 59*time.Minute)}, 1.0},
		{"exactly 24h", []time.Time{base}, []time.Time{base.Add(24 * time.Hour)}, 1.0},
		{"24h01m apart", []time.Time{base}, []time.Time{base.Add(24*time.Hour + time.Minute)}, 0.0},
	}
	for _, tc := range cases {
		if got := dateSimilarity(tc.a, tc.b); got != tc.want {
			t.Errorf("%s: dateSimilarity = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"same", "same", 0},
	}
	for _, tc := range cases {
		if got := levenshtein([]rune(tc.a), []rune(tc.b)); got != tc.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestJaroWinklerPrefixBoost(t *testing.T) {
	// Shared prefix must score at least as high as the same edit without it.
	withPrefix := jaroWinkler("market one", "market two")
	plain := jaro([]rune("market one"), []rune("market two"))
	if withPrefix < plain {
		t.Errorf("prefix boost lowered score: %v < %v", withPrefix, plain)
	}
	if jw := jaroWinkler("abc", "abc"); jw != 1.0 {
		t.Errorf("jaroWinkler identity = %v, want 1.0", jw)
	}
}

// Cross-venue phrasings of the same BTC market must clear the default
// 0.85 threshold: the dates resolve to the same day and the titles differ
// only in date formatting.
func TestBTCScenarioMatches(t *testing.T) {
	a := Normalize("Will BTC hit $100k by 12/31/2024?", "")
	b := Normalize("Will BTC hit $100k by Dec 31, 2024?", "")

	if ds := dateSimilarity(a.Dates, b.Dates); ds != 1.0 {
		t.Fatalf("date similarity = %v, want 1.0 (dates a=%v b=%v)", ds, a.Dates, b.Dates)
	}

	score := Similarity(a, b)
	if score < 0.85 {
		t.Errorf("composite similarity = %v, want >= 0.85", score)
	}
	if score >= 0.95 {
		t.Errorf("composite similarity = %v, expected medium confidence band", score)
	}
}

func TestDistantMarketsStayBelowThreshold(t *testing.T) {
	a := Normalize("Will BTC hit $100k by 12/31/2024?", "")
	b := Normalize("Will the Chiefs win the Super Bowl?", "")
	if score := Similarity(a, b); score >= 0.85 {
		t.Errorf("unrelated markets scored %v, want < 0.85", score)
	}
}
