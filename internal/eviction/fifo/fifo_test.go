package fifo

import (
	"fmt"
	"testing"
)

func TestFIFO(t *testing.T) {
	f := New()

	f.OnAdd("a", 10)
	f.OnAdd("b", 20)
	f.OnAdd("c", 30)

	// Write order: a, b, c. Total 60.

	// Target 40. Victims come from the oldest write: a (10) then b (20).
	victims := f.GetVictims(60, 40)
	if len(victims) != 2 {
		t.Fatalf("expected 2 victims, got %d", len(victims))
	}
	if victims[0].Key != "a" || victims[1].Key != "b" {
		t.Errorf("expected victims a, b, got %v", victims)
	}

	// Rewriting a makes it the newest.
	if diff := f.OnAdd("a", 15); diff != 5 {
		t.Errorf("expected size diff 5, got %d", diff)
	}
	oldest := f.Oldest(1)
	if len(oldest) != 1 || oldest[0].Key != "b" {
		t.Errorf("expected b to be oldest, got %v", oldest)
	}
}

func TestFIFO_Oldest(t *testing.T) {
	f := New()
	for i := 0; i < 60; i++ {
		f.OnAdd(fmt.Sprintf("k%02d", i), 1)
	}
	if f.Len() != 60 {
		t.Fatalf("expected 60 entries, got %d", f.Len())
	}

	victims := f.Oldest(30)
	if len(victims) != 30 {
		t.Fatalf("expected 30 victims, got %d", len(victims))
	}
	for i, v := range victims {
		if want := fmt.Sprintf("k%02d", i); v.Key != want {
			t.Errorf("victim %d: expected %s, got %s", i, want, v.Key)
		}
	}

	if got := len(f.Oldest(100)); got != 60 {
		t.Errorf("Oldest beyond Len should return all, got %d", got)
	}
}

func TestFIFO_Remove(t *testing.T) {
	f := New()
	f.OnAdd("a", 10)
	f.Remove("a")
	f.Remove("missing")

	if f.Contains("a") {
		t.Error("a still tracked after remove")
	}
	victims := f.GetVictims(10, 0)
	if len(victims) != 0 {
		t.Errorf("expected 0 victims after remove, got %d", len(victims))
	}
}
