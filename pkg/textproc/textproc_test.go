package textproc

import (
	"strings"
	"testing"
)

func TestCleanTextCollapsesWhitespace(t *testing.T) {
	got := CleanText("  hello   world\n\n\n\ngoodbye\t\tworld  ")
	if got != "hello world goodbye world" {
		t.Fatalf("CleanText = %q", got)
	}
}

func TestCleanTextStripsControlChars(t *testing.T) {
	got := CleanText("a\x00b\x07c")
	if got != "abc" {
		t.Fatalf("CleanText = %q", got)
	}
}

func TestCleanTextIdempotent(t *testing.T) {
	once := CleanText("  some   text\x00 here ")
	if twice := CleanText(once); twice != once {
		t.Fatalf("not idempotent: %q vs %q", once, twice)
	}
}

func TestRemoveOCRNoise(t *testing.T) {
	got := RemoveOCRNoise("name ||||| value _____ done .......")
	if strings.Contains(got, "||") || strings.Contains(got, "___") {
		t.Errorf("artifacts survived: %q", got)
	}
	if !strings.Contains(got, "...") || strings.Contains(got, "....") {
		t.Errorf("dot run not normalized: %q", got)
	}
}

func TestChunkTextSnapsToSentenceBoundary(t *testing.T) {
	text := "First sentence here. Second sentence there. Third."
	chunks := ChunkText(text, 30, 0)
	want := []string{"First sentence here.", "Second sentence there. Third."}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %q, want %q", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestChunkTextRespectsSize(t *testing.T) {
	text := strings.Repeat("a", 25)
	chunks := ChunkText(text, 10, 0)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 10 {
			t.Errorf("chunk[%d] length = %d, want <= 10", i, len([]rune(c)))
		}
	}
}

func TestChunkTextOverlap(t *testing.T) {
	text := strings.Repeat("x", 20)
	chunks := ChunkText(text, 10, 4)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want at least 2", len(chunks))
	}
	// Reassembled coverage must include the whole input despite overlap.
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total < len(text) {
		t.Errorf("total chunk length %d < input length %d", total, len(text))
	}
}

func TestChunkTextTerminatesWithExcessiveOverlap(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, overlap := range []int{10, 15, 100} {
		chunks := ChunkText(text, 10, overlap)
		if len(chunks) == 0 {
			t.Fatalf("overlap %d: no chunks", overlap)
		}
		// Overlap at or above the size is clamped, so every chunk stays
		// within size plus the effective overlap.
		for i, c := range chunks {
			if n := len([]rune(c)); n > 10+10 {
				t.Errorf("overlap %d: chunk[%d] length = %d", overlap, i, n)
			}
		}
	}
}

func TestChunkTextShortInputSingleChunk(t *testing.T) {
	chunks := ChunkText("  a short note  ", 100, 20)
	if len(chunks) != 1 || chunks[0] != "a short note" {
		t.Fatalf("chunks = %q, want the trimmed input", chunks)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	if got := ChunkText("", 100, 10); got != nil {
		t.Fatalf("ChunkText(\"\") = %v, want nil", got)
	}
	if got := ChunkText("text", 0, 0); got != nil {
		t.Fatalf("ChunkText with size 0 = %v, want nil", got)
	}
}

func TestExtractSentencesDropsFragments(t *testing.T) {
	got := ExtractSentences("Short one. This sentence is long enough to keep. Tiny.")
	if len(got) != 1 {
		t.Fatalf("sentences = %q, want exactly one", got)
	}
	if got[0] != "This sentence is long enough to keep" {
		t.Errorf("sentence = %q", got[0])
	}
}

func TestCalculateTextStats(t *testing.T) {
	stats := CalculateTextStats("One two three four. Five six seven eight nine.")
	if stats.Words != 9 {
		t.Errorf("Words = %d, want 9", stats.Words)
	}
	if stats.Sentences != 2 {
		t.Errorf("Sentences = %d, want 2", stats.Sentences)
	}
	if stats.Paragraphs != 1 {
		t.Errorf("Paragraphs = %d, want 1", stats.Paragraphs)
	}
	if stats.Characters == 0 || stats.AverageWordLength <= 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestExtractKeywords(t *testing.T) {
	text := "gamma alpha gamma beta gamma alpha with the and from"
	got := ExtractKeywords(text, 2)
	if len(got) != 2 || got[0] != "gamma" || got[1] != "alpha" {
		t.Fatalf("keywords = %q, want [gamma alpha]", got)
	}
}

func TestExtractKeywordsIgnoresShortAndStopWords(t *testing.T) {
	got := ExtractKeywords("the and cat dog is at on a", 10)
	if len(got) != 0 {
		t.Fatalf("keywords = %q, want none", got)
	}
}
