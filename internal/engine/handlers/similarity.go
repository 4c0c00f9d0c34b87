package handlers

import "strings"

// wordTrigrams returns the set of contiguous 3-word runs in s, each joined by
// a single space. Strings with fewer than three words yield their word set
// instead, so short outputs still have features to compare.
func wordTrigrams(s string) map[string]struct{} {
	words := strings.Fields(s)
	set := make(map[string]struct{}, len(words))
	if len(words) < 3 {
		for _, w := range words {
			set[w] = struct{}{}
		}
		return set
	}
	for i := 0; i+3 <= len(words); i++ {
		set[words[i]+" "+words[i+1]+" "+words[i+2]] = struct{}{}
	}
	return set
}

// TrigramSimilarity is the Jaccard index of the word-trigram sets of a and b.
// Two empty inputs are identical (1.0). The result is symmetric and in [0,1].
func TrigramSimilarity(a, b string) float64 {
	return jaccard(wordTrigrams(a), wordTrigrams(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for k := range small {
		if _, ok := large[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}
