package actuator

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDuty(t *testing.T) {
	tests := []struct {
		percent uint8
		want    uint32
	}{
		{0, 0},
		{1, 81},
		{8, 655},
		{50, 4096},
		{100, 8192},
		{150, 8192},
	}
	for _, tt := range tests {
		if got := Duty(tt.percent); got != tt.want {
			t.Errorf("Duty(%d) = %d, want %d", tt.percent, got, tt.want)
		}
	}
}

func TestLogActuator(t *testing.T) {
	a := NewLogActuator(newTestLogger())
	if err := a.SetLevel(64); err != nil {
		t.Fatal(err)
	}
	if a.Level() != 64 {
		t.Errorf("level = %d, want 64", a.Level())
	}
}

// fakeSysfs lays out a pwmchip directory the way the kernel does after export.
func fakeSysfs(t *testing.T, exported bool) string {
	t.Helper()
	root := t.TempDir()
	chip := filepath.Join(root, "pwmchip0")
	if err := os.MkdirAll(chip, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(chip, "export"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if exported {
		if err := os.MkdirAll(filepath.Join(chip, "pwm1"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func readAttr(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(b))
}

func TestPWMSetLevel(t *testing.T) {
	root := fakeSysfs(t, true)
	p, err := NewPWM(PWMConfig{Root: root, Chip: 0, Channel: 1, Period: 819200 * time.Nanosecond}, newTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(root, "pwmchip0", "pwm1")

	if got := readAttr(t, filepath.Join(dir, "period")); got != "819200" {
		t.Errorf("period = %s, want 819200", got)
	}
	if got := readAttr(t, filepath.Join(dir, "enable")); got != "1" {
		t.Errorf("enable = %s, want 1", got)
	}

	tests := []struct {
		percent uint8
		want    string
	}{
		{0, "0"},
		{50, "409600"},
		{100, "819200"},
	}
	for _, tt := range tests {
		if err := p.SetLevel(tt.percent); err != nil {
			t.Fatal(err)
		}
		if got := readAttr(t, filepath.Join(dir, "duty_cycle")); got != tt.want {
			t.Errorf("SetLevel(%d): duty_cycle = %s, want %s", tt.percent, got, tt.want)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if got := readAttr(t, filepath.Join(dir, "enable")); got != "0" {
		t.Errorf("enable after close = %s, want 0", got)
	}
}

func TestPWMExportsChannel(t *testing.T) {
	root := fakeSysfs(t, false)
	// With no kernel behind the fake, export cannot create pwm1, so the
	// following attribute writes fail. The export request must still be made.
	_, err := NewPWM(PWMConfig{Root: root, Chip: 0, Channel: 1}, newTestLogger())
	if err == nil {
		t.Fatal("expected error without exported channel")
	}
	if got := readAttr(t, filepath.Join(root, "pwmchip0", "export")); got != "1" {
		t.Errorf("export = %q, want 1", got)
	}
}
