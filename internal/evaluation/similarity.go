package evaluation

import "strings"

// DefaultThreshold is the similarity at which an answer passes.
const DefaultThreshold = 0.8

// Similarity is the fraction of the runes of expected that occur anywhere
// in generated. Order and multiplicity are ignored, so "顆5105" fully covers
// "5105顆". An empty expected answer scores 0.
//
// This overrates answers that merely reuse common characters; it is kept
// so scores stay comparable with existing logs.
func Similarity(generated, expected string) float64 {
	runes := []rune(expected)
	if len(runes) == 0 {
		return 0
	}
	hit := 0
	for _, r := range runes {
		if strings.ContainsRune(generated, r) {
			hit++
		}
	}
	return float64(hit) / float64(len(runes))
}
