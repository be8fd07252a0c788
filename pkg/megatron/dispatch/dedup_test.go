package dispatch

import (
	"fmt"
	"testing"
)

func TestDedupWindow(t *testing.T) {
	w := NewDedupWindow(4)
	for i := 0; i < 4; i++ {
		if w.Seen(fmt.Sprint(i)) {
			t.Fatalf("id %d reported as seen", i)
		}
	}
	if !w.Seen("3") {
		t.Fatal("repeat id not detected")
	}

	// Inserting past capacity evicts the oldest half.
	if w.Seen("4") {
		t.Fatal("new id reported as seen")
	}
	if w.Len() != 3 {
		t.Fatalf("len = %d, want 3", w.Len())
	}
	if w.Seen("0") {
		t.Error("evicted id still remembered")
	}
	if !w.Seen("4") {
		t.Error("recent id forgotten")
	}
}

func TestDedupWindowDefaultCapacity(t *testing.T) {
	w := NewDedupWindow(0)
	for i := 0; i < DefaultDedupCapacity; i++ {
		w.Seen(fmt.Sprint(i))
	}
	if w.Len() != DefaultDedupCapacity {
		t.Errorf("len = %d", w.Len())
	}
	w.Seen("overflow")
	if w.Len() != DefaultDedupCapacity/2+1 {
		t.Errorf("len after eviction = %d", w.Len())
	}
}
