package actuator

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// DefaultPeriod is 5 kHz, the LEDC frequency used for the lamp channel.
const DefaultPeriod = 200 * time.Microsecond

// PWM drives a Linux sysfs PWM channel (/sys/class/pwm/pwmchipN/pwmM).
type PWM struct {
	chipDir string
	dir     string
	period  time.Duration
	logger  *slog.Logger

	mu sync.Mutex
}

// PWMConfig selects the sysfs channel.
type PWMConfig struct {
	Root    string // defaults to /sys/class/pwm
	Chip    int
	Channel int
	Period  time.Duration
}

// NewPWM exports the channel if needed, programs the period and enables the
// output at 0%.
func NewPWM(cfg PWMConfig, logger *slog.Logger) (*PWM, error) {
	if cfg.Root == "" {
		cfg.Root = "/sys/class/pwm"
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	chipDir := filepath.Join(cfg.Root, fmt.Sprintf("pwmchip%d", cfg.Chip))
	p := &PWM{
		chipDir: chipDir,
		dir:     filepath.Join(chipDir, fmt.Sprintf("pwm%d", cfg.Channel)),
		period:  cfg.Period,
		logger:  logger.With("component", "actuator", "pwm", fmt.Sprintf("%d/%d", cfg.Chip, cfg.Channel)),
	}

	if _, err := os.Stat(p.dir); errors.Is(err, fs.ErrNotExist) {
		if err := writeAttr(filepath.Join(chipDir, "export"), strconv.Itoa(cfg.Channel)); err != nil {
			return nil, fmt.Errorf("pwm export: %w", err)
		}
	}
	// duty_cycle must not exceed period, so clear it before changing period.
	if err := p.write("duty_cycle", "0"); err != nil {
		return nil, err
	}
	if err := p.write("period", strconv.FormatInt(cfg.Period.Nanoseconds(), 10)); err != nil {
		return nil, err
	}
	if err := p.write("enable", "1"); err != nil {
		return nil, err
	}
	p.logger.Info("pwm ready", "period", cfg.Period)
	return p, nil
}

// SetLevel programs duty_cycle from the 13-bit duty of percent.
func (p *PWM) SetLevel(percent uint8) error {
	duty := Duty(percent)
	ns := p.period.Nanoseconds() * int64(duty) >> DutyResolution
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write("duty_cycle", strconv.FormatInt(ns, 10)); err != nil {
		return err
	}
	p.logger.Debug("pwm duty", "percent", percent, "duty", duty, "duty_ns", ns)
	return nil
}

// Close turns the output off.
func (p *PWM) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write("duty_cycle", "0"); err != nil {
		return err
	}
	return p.write("enable", "0")
}

func (p *PWM) write(attr, value string) error {
	if err := writeAttr(filepath.Join(p.dir, attr), value); err != nil {
		return fmt.Errorf("pwm %s: %w", attr, err)
	}
	return nil
}

func writeAttr(path, value string) error {
	return os.WriteFile(path, []byte(value), 0644)
}
