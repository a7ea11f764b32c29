package gateway

import (
	"fmt"
	"testing"
)

func fillBacklog(b *Backlog, n int64) {
	for i := int64(1); i <= n; i++ {
		b.Push(i, []byte(fmt.Sprintf("env-%d", i)))
	}
}

func TestBacklog_After(t *testing.T) {
	b := NewBacklog(100)
	fillBacklog(b, 10)

	got := b.After(6)
	if len(got) != 4 {
		t.Fatalf("After(6): expected 4 envelopes, got %d", len(got))
	}
	for i, data := range got {
		want := fmt.Sprintf("env-%d", i+7)
		if string(data) != want {
			t.Errorf("envelope[%d] = %q, want %q", i, data, want)
		}
	}
}

func TestBacklog_AfterZeroReturnsEverything(t *testing.T) {
	b := NewBacklog(100)
	fillBacklog(b, 3)
	if got := b.After(0); len(got) != 3 {
		t.Fatalf("After(0): expected 3 envelopes, got %d", len(got))
	}
}

func TestBacklog_AfterNewestReturnsNothing(t *testing.T) {
	b := NewBacklog(100)
	fillBacklog(b, 5)
	if got := b.After(5); got != nil {
		t.Fatalf("After(newest): expected nil, got %d envelopes", len(got))
	}
}

func TestBacklog_EvictsOldest(t *testing.T) {
	b := NewBacklog(5)
	fillBacklog(b, 8) // seqs 1..3 evicted

	if b.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", b.Len())
	}

	got := b.After(0)
	if len(got) != 5 {
		t.Fatalf("After(0): expected 5 envelopes, got %d", len(got))
	}
	if string(got[0]) != "env-4" {
		t.Errorf("oldest envelope = %q, want env-4", got[0])
	}
	if string(got[4]) != "env-8" {
		t.Errorf("newest envelope = %q, want env-8", got[4])
	}
}

func TestBacklog_CopiesData(t *testing.T) {
	b := NewBacklog(10)
	data := []byte("original")
	b.Push(1, data)
	data[0] = 'X'

	got := b.After(0)
	if len(got) != 1 || string(got[0]) != "original" {
		t.Errorf("backlog shares caller's slice: got %q", got[0])
	}
}

func TestBacklog_Empty(t *testing.T) {
	b := NewBacklog(10)
	if got := b.After(0); len(got) != 0 {
		t.Fatalf("empty backlog After should return nothing, got %d", len(got))
	}
}
