package utils

import (
	"strings"
	"unicode"
)

// SplitText splits text into chunks of at most chunkSize runes, each sharing
// overlap runes with the previous one. Inside the second half of a window it
// prefers to cut after a paragraph break, then a newline, then a sentence end,
// then any whitespace, and only cuts mid-word when none is found.
func SplitText(text string, chunkSize int, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	totalLen := len(runes)
	if chunkSize <= 0 || totalLen <= chunkSize {
		return []string{strings.TrimSpace(text)}
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < totalLen; {
		end := start + chunkSize
		if end >= totalLen {
			end = totalLen
		} else {
			end = findBoundary(runes, start+chunkSize/2, end)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == totalLen {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

func findBoundary(runes []rune, lo, hi int) int {
	separators := []func(k int) bool{
		func(k int) bool { return runes[k] == '\n' && k > 0 && runes[k-1] == '\n' },
		func(k int) bool { return runes[k] == '\n' },
		func(k int) bool {
			return (runes[k] == '.' || runes[k] == '!' || runes[k] == '?') &&
				k+1 < len(runes) && unicode.IsSpace(runes[k+1])
		},
		func(k int) bool { return unicode.IsSpace(runes[k]) },
	}

	for _, isSeparator := range separators {
		for k := hi - 1; k >= lo; k-- {
			if isSeparator(k) {
				return k + 1
			}
		}
	}
	return hi
}
