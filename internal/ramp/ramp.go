// Package ramp holds the brightness level of a lamp and the direction-reversing
// ramp driven by a held button.
package ramp

import "golang.org/x/exp/constraints"

const (
	MinLevel = 0
	MaxLevel = 100

	// DefaultStep is the level change per hold tick.
	DefaultStep = 8
)

// Direction is the sign of the next ramp step.
type Direction int

const (
	Up   Direction = 1
	Down Direction = -1
)

func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}

// Engine owns a brightness level in [MinLevel, MaxLevel]. It is not safe for
// concurrent use; the node serialises access.
type Engine struct {
	level     int
	direction Direction
	step      int
}

// New returns an engine at level 0 ramping up. A non-positive step selects DefaultStep.
func New(step int) *Engine {
	if step <= 0 {
		step = DefaultStep
	}
	return &Engine{direction: Up, step: step}
}

// Level returns the current level.
func (e *Engine) Level() int { return e.level }

// Direction returns the direction the next Tick will move in.
func (e *Engine) Direction() Direction { return e.direction }

// Step returns the per-tick step.
func (e *Engine) Step() int { return e.step }

// Toggle switches between off and full: any lit level goes to MinLevel,
// MinLevel goes to MaxLevel. Direction is untouched.
func (e *Engine) Toggle() int {
	if e.level > MinLevel {
		e.level = MinLevel
	} else {
		e.level = MaxLevel
	}
	return e.level
}

// Tick advances the level by one step in the current direction. Crossing a
// bound clamps the level to it and reverses the direction.
func (e *Engine) Tick() int {
	next := e.level + int(e.direction)*e.step
	switch {
	case next > MaxLevel:
		next = MaxLevel
		e.direction = Down
	case next < MinLevel:
		next = MinLevel
		e.direction = Up
	}
	e.level = next
	return e.level
}

// SetLevel forces the level, clamped to the valid range. Direction is untouched.
func (e *Engine) SetLevel(v int) int {
	e.level = clamp(v, MinLevel, MaxLevel)
	return e.level
}

// SetDirection overrides the ramp direction.
func (e *Engine) SetDirection(d Direction) {
	if d == Down {
		e.direction = Down
		return
	}
	e.direction = Up
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
