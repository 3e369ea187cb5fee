package freshbooks

import "strings"

var baseStopWords = []string{"and", "the", "of", "in", "for", "to", "with", "by", "at", "from"}

func matchTokens(value string, stopWords map[string]struct{}) map[string]struct{} {
	value = strings.NewReplacer("-", " ", "/", " ").Replace(strings.ToLower(value))
	tokens := make(map[string]struct{})
	for _, token := range strings.Fields(value) {
		if len(token) < 2 {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		tokens[token] = struct{}{}
	}
	return tokens
}

// matchScore blends token overlap, substring hits and full containment into
// a value between 0 and 1.
func matchScore(input string, inputTokens map[string]struct{}, candidate string, stopWords map[string]struct{}) float64 {
	candidateTokens := matchTokens(candidate, stopWords)
	if len(inputTokens) == 0 || len(candidateTokens) == 0 {
		return 0
	}

	overlap := 0
	for token := range inputTokens {
		if _, ok := candidateTokens[token]; ok {
			overlap++
		}
	}
	overlapScore := float64(overlap) / float64(min(len(inputTokens), len(candidateTokens)))

	lowerCandidate := strings.ToLower(candidate)
	substring := 0.0
	for token := range inputTokens {
		if strings.Contains(lowerCandidate, token) {
			substring += 0.5
		}
	}
	substringScore := min(1.0, substring/float64(len(inputTokens)))

	lowerInput := strings.ToLower(input)
	containment := 0.0
	if strings.Contains(lowerCandidate, lowerInput) || strings.Contains(lowerInput, lowerCandidate) {
		containment = 0.8
	}

	return overlapScore*0.6 + substringScore*0.3 + containment*0.1
}

// bestMatch returns the index of the highest scoring candidate at or above threshold.
// Ties keep the earliest candidate.
func bestMatch(input string, candidates []string, extraStopWords []string, threshold float64) (int, float64, bool) {
	stopWords := make(map[string]struct{}, len(baseStopWords)+len(extraStopWords))
	for _, word := range baseStopWords {
		stopWords[word] = struct{}{}
	}
	for _, word := range extraStopWords {
		stopWords[word] = struct{}{}
	}

	inputTokens := matchTokens(input, stopWords)
	best, bestScore := -1, 0.0
	for i, candidate := range candidates {
		score := matchScore(input, inputTokens, candidate, stopWords)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore < threshold {
		return -1, 0, false
	}
	return best, bestScore, true
}
