//go:build !linux

package button

import (
	"errors"
	"log/slog"
	"time"
)

// GPIOConfig selects the button line.
type GPIOConfig struct {
	Chip      string
	Line      int
	ActiveLow bool
	Debounce  time.Duration
}

// GPIOSource is not available on non-Linux platforms.
type GPIOSource struct{}

// NewGPIOSource returns an error on non-Linux platforms.
func NewGPIOSource(cfg GPIOConfig, logger *slog.Logger) (*GPIOSource, error) {
	return nil, errors.New("button: gpio not supported on this platform (requires Linux)")
}

func (s *GPIOSource) Edges() <-chan Edge { return nil }

func (s *GPIOSource) Close() error { return nil }
