package search

// editDistance computes the Damerau-Levenshtein distance between two words
// with a cutoff. Distances above max are reported as max+1; the caller only
// cares whether a candidate is within the correction budget.
func editDistance(a, b string, max int) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)

	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	if diff > max {
		return max + 1
	}

	prev2 := make([]int, lb+1)
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			best := prev[j] + 1
			if curr[j-1]+1 < best {
				best = curr[j-1] + 1
			}
			if prev[j-1]+cost < best {
				best = prev[j-1] + cost
			}
			// Adjacent transposition counts as one edit.
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				if prev2[j-2]+1 < best {
					best = prev2[j-2] + 1
				}
			}
			curr[j] = best
			if best < rowMin {
				rowMin = best
			}
		}
		if rowMin > max {
			return max + 1
		}
		prev2, prev, curr = prev, curr, prev2
	}
	if prev[lb] > max {
		return max + 1
	}
	return prev[lb]
}

// nearestToken finds the vocabulary token closest to word within maxDist
// edits. Ties resolve to the lexicographically smaller token so correction
// is deterministic.
func nearestToken(word string, vocabulary []string, maxDist int) (string, bool) {
	best := ""
	bestDist := maxDist + 1
	for _, token := range vocabulary {
		d := editDistance(word, token, maxDist)
		if d < bestDist || (d == bestDist && best != "" && token < best) {
			best = token
			bestDist = d
		}
	}
	return best, bestDist <= maxDist
}
