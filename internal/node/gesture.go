package node

import "fmt"

// GestureKind is one of the three classified button gestures.
type GestureKind int

const (
	GestureSingleClick GestureKind = iota + 1
	GestureDoubleClick
	GestureLongHoldTick
)

func (k GestureKind) String() string {
	switch k {
	case GestureSingleClick:
		return "single"
	case GestureDoubleClick:
		return "double"
	case GestureLongHoldTick:
		return "hold"
	default:
		return fmt.Sprintf("gesture(%d)", int(k))
	}
}

// ParseGestureKind accepts the names produced by GestureKind.String.
func ParseGestureKind(s string) (GestureKind, error) {
	switch s {
	case "single":
		return GestureSingleClick, nil
	case "double":
		return GestureDoubleClick, nil
	case "hold":
		return GestureLongHoldTick, nil
	default:
		return 0, fmt.Errorf("unknown gesture %q", s)
	}
}

// Gesture is a classified input event. Source is an opaque token naming
// where it came from ("button", "web", "mqtt", "lua").
type Gesture struct {
	Kind   GestureKind
	Source string
}

// mustKind aborts when a handler is handed a gesture it does not serve.
func mustKind(g Gesture, want GestureKind) {
	if g.Kind != want {
		panic(fmt.Sprintf("node: %s handler invoked with %s gesture from %q", want, g.Kind, g.Source))
	}
}
