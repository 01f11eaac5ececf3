//go:build linux

package button

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOConfig selects the button line.
type GPIOConfig struct {
	Chip      string // e.g. "gpiochip0"
	Line      int
	ActiveLow bool
	Debounce  time.Duration
}

// GPIOSource reports edges of a button wired to a GPIO line, using the
// Linux GPIO character device with kernel debouncing.
type GPIOSource struct {
	line   *gpiocdev.Line
	edges  chan Edge
	logger *slog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewGPIOSource requests the line as an input watching both edges.
func NewGPIOSource(cfg GPIOConfig, logger *slog.Logger) (*GPIOSource, error) {
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	s := &GPIOSource{
		edges:  make(chan Edge, 16),
		logger: logger.With("component", "gpio", "chip", cfg.Chip, "line", cfg.Line),
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(s.handleEvent),
	}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow, gpiocdev.WithPullUp)
	} else {
		opts = append(opts, gpiocdev.WithPullDown)
	}
	if cfg.Debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(cfg.Debounce))
	}

	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line, opts...)
	if err != nil {
		return nil, fmt.Errorf("request button line %s/%d: %w", cfg.Chip, cfg.Line, err)
	}
	s.line = line
	s.logger.Info("button line ready", "active_low", cfg.ActiveLow, "debounce", cfg.Debounce)
	return s, nil
}

// handleEvent runs on the gpiocdev watcher goroutine. Edge types are logical,
// so a rising edge is a press regardless of ActiveLow.
func (s *GPIOSource) handleEvent(evt gpiocdev.LineEvent) {
	e := Edge{Pressed: evt.Type == gpiocdev.LineEventRisingEdge, At: time.Now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.edges <- e:
	default:
		s.logger.Warn("button edge dropped")
	}
}

func (s *GPIOSource) Edges() <-chan Edge {
	return s.edges
}

// Close releases the line and closes the edge channel.
func (s *GPIOSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.line.Close()
		s.mu.Lock()
		s.closed = true
		close(s.edges)
		s.mu.Unlock()
	})
	return err
}
