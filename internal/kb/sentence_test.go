// File path: internal/kb/sentence_test.go
package kb

import "testing"

func TestSplitSentencesWesternPunctuation(t *testing.T) {
	got := SplitSentences("First sentence. Second one! Third?")
	want := []string{"First sentence.", "Second one!", "Third?"}
	if len(got) != len(want) {
		t.Fatalf("expected %d sentences, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentence %d: want %q got %q", i, want[i], got[i])
		}
	}
}

func TestSplitSentencesCJKPunctuation(t *testing.T) {
	got := SplitSentences("今天天气很好。大家都在讨论新政策！有什么影响？")
	if len(got) != 3 {
		t.Fatalf("expected 3 sentences, got %d: %v", len(got), got)
	}
	if got[0] != "今天天气很好。" {
		t.Fatalf("unexpected first sentence: %q", got[0])
	}
}

func TestSplitSentencesDropsEmptyFragments(t *testing.T) {
	got := SplitSentences("\n\n  \nOnly one sentence here")
	if len(got) != 1 {
		t.Fatalf("expected whitespace fragments dropped, got %v", got)
	}
	if got[0] != "Only one sentence here" {
		t.Fatalf("expected trailing text kept without terminal punctuation, got %q", got[0])
	}
}

func TestSplitSentencesDeterministic(t *testing.T) {
	content := "A. B. C."
	first := SplitSentences(content)
	second := SplitSentences(content)
	if len(first) != len(second) {
		t.Fatal("split is not deterministic")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("split is not deterministic")
		}
	}
}
