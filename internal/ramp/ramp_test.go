package ramp

import "testing"

func TestToggle(t *testing.T) {
	for level := MinLevel; level <= MaxLevel; level++ {
		e := New(DefaultStep)
		e.SetLevel(level)
		got := e.Toggle()
		want := MinLevel
		if level == MinLevel {
			want = MaxLevel
		}
		if got != want {
			t.Errorf("Toggle() from %d = %d, want %d", level, got, want)
		}
	}
}

func TestToggleAlternates(t *testing.T) {
	e := New(DefaultStep)
	want := []int{100, 0, 100, 0}
	for i, w := range want {
		if got := e.Toggle(); got != w {
			t.Errorf("toggle %d = %d, want %d", i+1, got, w)
		}
	}
	if e.Direction() != Up {
		t.Error("toggle changed direction")
	}
}

func TestTickReachesTopOnThirteenthCall(t *testing.T) {
	e := New(DefaultStep)
	for i := 1; i <= 12; i++ {
		if got := e.Tick(); got != 8*i {
			t.Fatalf("tick %d = %d, want %d", i, got, 8*i)
		}
		if e.Direction() != Up {
			t.Fatalf("tick %d flipped direction early", i)
		}
	}
	if got := e.Tick(); got != MaxLevel {
		t.Errorf("tick 13 = %d, want %d", got, MaxLevel)
	}
	if e.Direction() != Down {
		t.Errorf("direction after tick 13 = %v, want down", e.Direction())
	}
}

func TestTickBouncesAtBottom(t *testing.T) {
	e := New(DefaultStep)
	e.SetLevel(4)
	e.SetDirection(Down)
	if got := e.Tick(); got != MinLevel {
		t.Errorf("tick = %d, want %d", got, MinLevel)
	}
	if e.Direction() != Up {
		t.Errorf("direction = %v, want up", e.Direction())
	}
	if got := e.Tick(); got != 8 {
		t.Errorf("tick after bounce = %d, want 8", got)
	}
}

func TestTickMonotonicAndBounded(t *testing.T) {
	for start := MinLevel; start <= MaxLevel; start++ {
		for _, dir := range []Direction{Up, Down} {
			e := New(DefaultStep)
			e.SetLevel(start)
			e.SetDirection(dir)

			prev := e.Level()
			for i := 0; i < 60; i++ {
				before := e.Direction()
				cur := e.Tick()
				if cur < MinLevel || cur > MaxLevel {
					t.Fatalf("start=%d dir=%v: level %d out of range", start, dir, cur)
				}
				if before == Up && cur < prev {
					t.Fatalf("start=%d: decreased while ramping up (%d -> %d)", start, prev, cur)
				}
				if before == Down && cur > prev {
					t.Fatalf("start=%d: increased while ramping down (%d -> %d)", start, prev, cur)
				}
				if e.Direction() != before {
					// A flip only happens on a boundary touch.
					if before == Up && cur != MaxLevel || before == Down && cur != MinLevel {
						t.Fatalf("start=%d: direction flipped at %d", start, cur)
					}
				}
				prev = cur
			}
		}
	}
}

func TestSetLevelKeepsDirection(t *testing.T) {
	e := New(DefaultStep)
	e.SetDirection(Down)
	e.SetLevel(42)
	if e.Level() != 42 {
		t.Errorf("level = %d, want 42", e.Level())
	}
	if e.Direction() != Down {
		t.Error("SetLevel changed direction")
	}
}

func TestSetLevelClamps(t *testing.T) {
	e := New(DefaultStep)
	if got := e.SetLevel(250); got != MaxLevel {
		t.Errorf("SetLevel(250) = %d, want %d", got, MaxLevel)
	}
	if got := e.SetLevel(-3); got != MinLevel {
		t.Errorf("SetLevel(-3) = %d, want %d", got, MinLevel)
	}
}

func TestNewDefaultsStep(t *testing.T) {
	if got := New(0).Step(); got != DefaultStep {
		t.Errorf("step = %d, want %d", got, DefaultStep)
	}
}
