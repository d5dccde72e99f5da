package voice

import "strings"

const maxMergeOverlapTokens = 5

// MergeTranscripts composes an accumulating transcript with a newly returned
// partial, removing the suffix/prefix word overlap that consecutive STT
// passes over a growing buffer produce.
func MergeTranscripts(old, new string) string {
	old = strings.TrimSpace(old)
	new = strings.TrimSpace(new)
	if old == "" {
		return new
	}
	if new == "" {
		return old
	}

	oldTokens := strings.Fields(old)
	newTokens := strings.Fields(new)

	max := len(oldTokens)
	if len(newTokens) < max {
		max = len(newTokens)
	}
	if max > maxMergeOverlapTokens {
		max = maxMergeOverlapTokens
	}

	for k := max; k >= 1; k-- {
		if tokensEqual(oldTokens[len(oldTokens)-k:], newTokens[:k]) {
			combined := append(oldTokens, newTokens[k:]...)
			return strings.Join(combined, " ")
		}
	}
	return old + " " + new
}

func tokensEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// TokenOverlapRatio measures how much two transcripts agree: the size of
// their case-insensitive token-set intersection over the larger set. Used to
// decide whether a speculative turn's input matched the final transcript
// closely enough to keep.
func TokenOverlapRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for token := range setA {
		if _, ok := setB[token]; ok {
			shared++
		}
	}

	max := len(setA)
	if len(setB) > max {
		max = len(setB)
	}
	return float64(shared) / float64(max)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range strings.Fields(strings.ToLower(s)) {
		set[token] = struct{}{}
	}
	return set
}
