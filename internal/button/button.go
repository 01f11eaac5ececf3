// Package button turns press and release edges of a push button into
// single click, double click and long-hold tick gestures.
package button

import (
	"time"

	"espnow-lamp/internal/node"
)

// Config holds gesture timing. Zero fields take the defaults.
type Config struct {
	// LongPress is how long a press must be held before hold ticks start.
	LongPress time.Duration
	// HoldInterval is the period between hold ticks while held.
	HoldInterval time.Duration
	// DoubleClick is the longest gap between a release and the next click
	// for the pair to count as a double click.
	DoubleClick time.Duration
}

// Defaults match the ESP-IDF iot_button component.
const (
	DefaultLongPress    = time.Second
	DefaultHoldInterval = 100 * time.Millisecond
	DefaultDoubleClick  = 300 * time.Millisecond
)

func (c *Config) applyDefaults() {
	if c.LongPress <= 0 {
		c.LongPress = DefaultLongPress
	}
	if c.HoldInterval <= 0 {
		c.HoldInterval = DefaultHoldInterval
	}
	if c.DoubleClick <= 0 {
		c.DoubleClick = DefaultDoubleClick
	}
}

// Classifier is a pure state machine over timestamped edges. It is not safe
// for concurrent use.
type Classifier struct {
	cfg    Config
	source string

	pressed  bool
	pressAt  time.Time
	holding  bool
	nextHold time.Time

	clickPending bool
	releaseAt    time.Time
}

// NewClassifier returns a classifier tagging its gestures with source.
func NewClassifier(cfg Config, source string) *Classifier {
	cfg.applyDefaults()
	return &Classifier{cfg: cfg, source: source}
}

// Press records the button going down at t.
func (c *Classifier) Press(t time.Time) []node.Gesture {
	if c.pressed {
		return nil
	}
	out := c.flushClick(t)
	c.pressed = true
	c.pressAt = t
	c.holding = false
	return out
}

// Release records the button going up at t. A release ending a hold
// produces no click.
func (c *Classifier) Release(t time.Time) []node.Gesture {
	if !c.pressed {
		return nil
	}
	out := c.Poll(t)
	c.pressed = false
	if c.holding {
		c.holding = false
		return out
	}
	if c.clickPending {
		c.clickPending = false
		return append(out, c.gesture(node.GestureDoubleClick))
	}
	c.clickPending = true
	c.releaseAt = t
	return out
}

// Poll emits gestures that became due by t: hold ticks while held, and a
// pending single click once the double click window has passed.
func (c *Classifier) Poll(t time.Time) []node.Gesture {
	if !c.pressed {
		return c.flushClick(t)
	}
	var out []node.Gesture
	if !c.holding && t.Sub(c.pressAt) >= c.cfg.LongPress {
		// A click followed by a hold is a click and then a hold.
		if c.clickPending {
			c.clickPending = false
			out = append(out, c.gesture(node.GestureSingleClick))
		}
		c.holding = true
		c.nextHold = c.pressAt.Add(c.cfg.LongPress)
	}
	for c.holding && !t.Before(c.nextHold) {
		out = append(out, c.gesture(node.GestureLongHoldTick))
		c.nextHold = c.nextHold.Add(c.cfg.HoldInterval)
	}
	return out
}

// Pressed reports whether the button is currently down.
func (c *Classifier) Pressed() bool {
	return c.pressed
}

func (c *Classifier) flushClick(t time.Time) []node.Gesture {
	if c.clickPending && t.Sub(c.releaseAt) > c.cfg.DoubleClick {
		c.clickPending = false
		return []node.Gesture{c.gesture(node.GestureSingleClick)}
	}
	return nil
}

func (c *Classifier) gesture(kind node.GestureKind) node.Gesture {
	return node.Gesture{Kind: kind, Source: c.source}
}
