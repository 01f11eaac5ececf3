// Package actuator drives the lamp output.
package actuator

import (
	"log/slog"
	"sync"
)

// Actuator applies a brightness percentage to the light output.
type Actuator interface {
	SetLevel(percent uint8) error
	Close() error
}

// DutyResolution is the LEDC timer resolution the duty mapping targets.
const DutyResolution = 13

// Duty maps a percentage to a 13-bit duty value: percent*8192/100.
// Values above 100 saturate.
func Duty(percent uint8) uint32 {
	if percent > 100 {
		percent = 100
	}
	return uint32(percent) * (1 << DutyResolution) / 100
}

// LogActuator records levels in the log. Used on hosts without a PWM output.
type LogActuator struct {
	logger *slog.Logger

	mu    sync.Mutex
	level uint8
}

func NewLogActuator(logger *slog.Logger) *LogActuator {
	return &LogActuator{logger: logger.With("component", "actuator")}
}

func (a *LogActuator) SetLevel(percent uint8) error {
	a.mu.Lock()
	a.level = percent
	a.mu.Unlock()
	a.logger.Info("light level", "percent", percent, "duty", Duty(percent))
	return nil
}

// Level returns the last level applied.
func (a *LogActuator) Level() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.level
}

func (a *LogActuator) Close() error { return nil }
