package rag

import (
	"strings"
	"testing"
)

func TestSplitIntoChunks(t *testing.T) {
	t.Run("empty text", func(t *testing.T) {
		if got := SplitIntoChunks("", 1500, 300); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("whitespace only", func(t *testing.T) {
		if got := SplitIntoChunks("   \n\t  ", 1500, 300); got != nil {
			t.Errorf("expected nil, got %v", got)
		}
	})

	t.Run("short text is a single chunk", func(t *testing.T) {
		got := SplitIntoChunks("hello world", 1500, 300)
		if len(got) != 1 {
			t.Fatalf("expected 1 chunk, got %d", len(got))
		}
		if got[0] != "hello world" {
			t.Errorf("expected %q, got %q", "hello world", got[0])
		}
	})

	t.Run("long text splits with bounded chunks", func(t *testing.T) {
		text := strings.Repeat("word ", 2000)
		got := SplitIntoChunks(text, 1500, 300)

		if len(got) < 2 {
			t.Fatalf("expected multiple chunks, got %d", len(got))
		}
		for i, c := range got {
			// A chunk may exceed the target by at most one word.
			if len(c) > 1500+len("word")+1 {
				t.Errorf("chunk %d too long: %d chars", i, len(c))
			}
		}
	})

	t.Run("consecutive chunks share overlapping words", func(t *testing.T) {
		words := make([]string, 600)
		for i := range words {
			words[i] = "w" + strings.Repeat("x", i%7)
		}
		got := SplitIntoChunks(strings.Join(words, " "), 500, 300)
		if len(got) < 2 {
			t.Fatalf("expected multiple chunks, got %d", len(got))
		}

		for i := 1; i < len(got); i++ {
			prevWords := strings.Fields(got[i-1])
			curWords := strings.Fields(got[i])
			tail := prevWords[len(prevWords)-1]
			found := false
			for _, w := range curWords {
				if w == tail {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("chunk %d does not carry the tail of chunk %d", i, i-1)
			}
		}
	})

	t.Run("no words lost", func(t *testing.T) {
		text := strings.Repeat("alpha beta gamma ", 300)
		got := SplitIntoChunks(text, 400, 100)

		joined := strings.Join(got, " ")
		for _, w := range []string{"alpha", "beta", "gamma"} {
			wantCount := strings.Count(text, w)
			if gotCount := strings.Count(joined, w); gotCount < wantCount {
				t.Errorf("word %q: expected at least %d occurrences, got %d", w, wantCount, gotCount)
			}
		}
	})
}
