package handlers

import (
	"math"
	"testing"
)

func TestWordTrigrams(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"whitespace only", "  \n\t ", nil},
		{"single word", "hello", []string{"hello"}},
		{"two words", "hello world", []string{"hello", "world"}},
		{"three words", "a b c", []string{"a b c"}},
		{"four words", "a b c d", []string{"a b c", "b c d"}},
		{"collapses whitespace", "a  b\n\nc", []string{"a b c"}},
		{"dedups", "x y z x y z", []string{"x y z", "y z x", "z x y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wordTrigrams(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d features, got %d (%v)", len(tt.want), len(got), got)
			}
			for _, w := range tt.want {
				if _, ok := got[w]; !ok {
					t.Errorf("missing feature %q in %v", w, got)
				}
			}
		})
	}
}

func TestTrigramSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "the quick brown fox jumps", "the quick brown fox jumps", 1.0},
		{"both empty", "", "", 1.0},
		{"one empty", "the quick brown fox", "", 0.0},
		{"disjoint", "one two three four", "five six seven eight", 0.0},
		{"partial overlap", "a b c d e f", "a b c d e f g", 0.8},
		{"short strings use word sets", "hello world", "hello there", 1.0 / 3.0},
		{"case sensitive", "Alpha Beta Gamma", "alpha beta gamma", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrigramSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("TrigramSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestTrigramSimilarity_SymmetricAndBounded(t *testing.T) {
	inputs := []string{
		"",
		"solo",
		"two words",
		"the answer is forty two",
		"the answer is clearly forty two after all",
		"an entirely different response with no shared phrasing",
	}
	for _, a := range inputs {
		for _, b := range inputs {
			ab := TrigramSimilarity(a, b)
			ba := TrigramSimilarity(b, a)
			if ab != ba {
				t.Errorf("not symmetric for %q / %q: %v vs %v", a, b, ab, ba)
			}
			if ab < 0 || ab > 1 {
				t.Errorf("out of range for %q / %q: %v", a, b, ab)
			}
		}
		if got := TrigramSimilarity(a, a); got != 1.0 {
			t.Errorf("self similarity of %q = %v, want 1", a, got)
		}
	}
}
