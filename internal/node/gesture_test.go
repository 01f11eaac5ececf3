package node

import "testing"

func TestParseGestureKind(t *testing.T) {
	for _, k := range []GestureKind{GestureSingleClick, GestureDoubleClick, GestureLongHoldTick} {
		got, err := ParseGestureKind(k.String())
		if err != nil {
			t.Fatal(err)
		}
		if got != k {
			t.Errorf("ParseGestureKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if _, err := ParseGestureKind("triple"); err == nil {
		t.Error("expected error for unknown gesture")
	}
}
