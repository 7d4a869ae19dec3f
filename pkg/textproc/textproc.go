// Package textproc cleans extracted document text and splits it into
// overlapping, sentence-aware chunks for embedding.
package textproc

import (
	"regexp"
	"sort"
	"strings"
)

var (
	whitespaceRuns = regexp.MustCompile(`\s+`)
	newlineRuns    = regexp.MustCompile(`\n{3,}`)
	controlChars   = regexp.MustCompile("[\x00-\x1f\x7f]")

	ocrPipeRuns       = regexp.MustCompile(`[|]{2,}`)
	ocrUnderscoreRuns = regexp.MustCompile(`_{3,}`)
	ocrDotRuns        = regexp.MustCompile(`\.{4,}`)
)

// CleanText normalizes extracted text: whitespace runs collapse to single
// spaces, 3+ consecutive newlines collapse to two, ASCII control characters
// are stripped, and the ends are trimmed. Idempotent.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	cleaned := whitespaceRuns.ReplaceAllString(text, " ")
	cleaned = newlineRuns.ReplaceAllString(cleaned, "\n\n")
	cleaned = controlChars.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// RemoveOCRNoise scrubs common OCR artifacts (pipe and underscore runs,
// over-long ellipses) before cleaning.
func RemoveOCRNoise(text string) string {
	cleaned := ocrPipeRuns.ReplaceAllString(text, "")
	cleaned = ocrUnderscoreRuns.ReplaceAllString(cleaned, "")
	cleaned = ocrDotRuns.ReplaceAllString(cleaned, "...")
	return cleaned
}

// ChunkText splits text into chunks of at most size runes with roughly
// overlap runes shared between consecutive chunks. When a window does not
// end at end-of-text, its right edge snaps back to the nearest sentence
// period or newline, but only if that boundary lies past the midpoint of
// the window. The offset advances by the snapped window length minus
// overlap, floored at one rune so the walk always terminates.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		window := runes[start:end]
		if end < len(runes) {
			boundary := -1
			for i := len(window) - 1; i >= 0; i-- {
				if window[i] == '.' || window[i] == '\n' {
					boundary = i
					break
				}
			}
			if boundary > size/2 {
				window = window[:boundary+1]
			}
		}
		if part := strings.TrimSpace(string(window)); part != "" {
			chunks = append(chunks, part)
		}
		if start+len(window) >= len(runes) {
			break
		}
		step := len(window) - overlap
		if step < 1 {
			step = 1
		}
		start += step
	}
	return chunks
}

// ExtractSentences splits text on sentence punctuation, dropping fragments
// of 10 runes or fewer.
func ExtractSentences(text string) []string {
	if text == "" {
		return nil
	}
	parts := regexp.MustCompile(`[.!?]+`).Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if len([]rune(part)) > 10 {
			sentences = append(sentences, part)
		}
	}
	return sentences
}

// TextStats summarizes basic text metrics.
type TextStats struct {
	Characters        int     `json:"characters"`
	Words             int     `json:"words"`
	Sentences         int     `json:"sentences"`
	Paragraphs        int     `json:"paragraphs"`
	AverageWordLength float64 `json:"averageWordLength"`
	ReadabilityScore  float64 `json:"readabilityScore"`
}

// CalculateTextStats computes character/word/sentence/paragraph counts and
// a rough Flesch-Kincaid readability approximation.
func CalculateTextStats(text string) TextStats {
	words := strings.Fields(text)
	sentences := ExtractSentences(text)
	paragraphs := 0
	for _, p := range regexp.MustCompile(`\n{2,}`).Split(text, -1) {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}
	totalWordLen := 0
	for _, w := range words {
		totalWordLen += len([]rune(w))
	}
	wordCount := len(words)
	if wordCount == 0 {
		wordCount = 1
	}
	sentenceCount := len(sentences)
	if sentenceCount == 0 {
		sentenceCount = 1
	}
	avgWordLen := float64(totalWordLen) / float64(wordCount)
	avgSentenceLen := float64(len(words)) / float64(sentenceCount)
	avgSyllables := avgWordLen / 2
	readability := 206.835 - 1.015*avgSentenceLen - 84.6*avgSyllables

	return TextStats{
		Characters:        len([]rune(text)),
		Words:             len(words),
		Sentences:         len(sentences),
		Paragraphs:        paragraphs,
		AverageWordLength: round1(avgWordLen),
		ReadabilityScore:  round1(readability),
	}
}

var keywordStopWords = map[string]struct{}{
	"the": {}, "is": {}, "at": {}, "which": {}, "on": {}, "a": {}, "an": {},
	"and": {}, "or": {}, "but": {}, "in": {}, "with": {}, "to": {}, "for": {},
	"of": {}, "as": {}, "by": {}, "that": {}, "this": {}, "it": {}, "from": {},
	"are": {}, "was": {}, "were": {}, "been": {}, "be": {}, "have": {},
	"has": {}, "had": {}, "do": {}, "does": {}, "did": {}, "will": {},
	"would": {}, "could": {}, "should": {},
}

var nonWord = regexp.MustCompile(`[^\w\s]`)

// ExtractKeywords returns the topN most frequent words longer than three
// runes, excluding stop words. Ties break alphabetically for stable output.
func ExtractKeywords(text string, topN int) []string {
	if topN <= 0 {
		topN = 10
	}
	normalized := nonWord.ReplaceAllString(strings.ToLower(text), " ")
	frequency := make(map[string]int)
	for _, word := range strings.Fields(normalized) {
		if len([]rune(word)) <= 3 {
			continue
		}
		if _, stop := keywordStopWords[word]; stop {
			continue
		}
		frequency[word]++
	}
	words := make([]string, 0, len(frequency))
	for word := range frequency {
		words = append(words, word)
	}
	sort.Slice(words, func(i, j int) bool {
		if frequency[words[i]] != frequency[words[j]] {
			return frequency[words[i]] > frequency[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > topN {
		words = words[:topN]
	}
	return words
}

func round1(v float64) float64 {
	if v < 0 {
		return float64(int(v*10-0.5)) / 10
	}
	return float64(int(v*10+0.5)) / 10
}
