package button

import (
	"context"
	"log/slog"
	"time"

	"espnow-lamp/internal/node"
)

// pollInterval bounds how late a hold tick or single click can be emitted.
const pollInterval = 10 * time.Millisecond

// Edge is one debounced transition of the button.
type Edge struct {
	Pressed bool
	At      time.Time
}

// Source delivers button edges.
type Source interface {
	Edges() <-chan Edge
	Close() error
}

// Run feeds edges from src through a classifier and hands each gesture to
// handle, on the calling goroutine, until ctx is done or src closes its channel.
func Run(ctx context.Context, src Source, cfg Config, name string, handle func(node.Gesture), logger *slog.Logger) {
	logger = logger.With("component", "button", "button", name)
	c := NewClassifier(cfg, "button")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	emit := func(gs []node.Gesture) {
		for _, g := range gs {
			logger.Debug("gesture", "kind", g.Kind)
			handle(g)
		}
	}

	edges := src.Edges()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-edges:
			if !ok {
				logger.Info("button source closed")
				return
			}
			if e.Pressed {
				emit(c.Press(e.At))
			} else {
				emit(c.Release(e.At))
			}
		case now := <-ticker.C:
			emit(c.Poll(now))
		}
	}
}
