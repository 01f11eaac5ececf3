package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"espnow-lamp/internal/espnow"
	"espnow-lamp/internal/ramp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "radio:\n  port: /dev/ttyACM0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Node.Name != "lamp" || cfg.Radio.Type != "serial" || cfg.Radio.Baud != 115200 {
		t.Errorf("node/radio defaults = %+v %+v", cfg.Node, cfg.Radio)
	}
	if cfg.Pairing.Key != "key_1" || cfg.Pairing.BindWindow != espnow.DefaultBindWindow ||
		*cfg.Pairing.RSSIThreshold != espnow.DefaultRSSIThreshold || cfg.Pairing.BindTimeout != espnow.DefaultBindWindow {
		t.Errorf("pairing defaults = %+v", cfg.Pairing)
	}
	if cfg.Ramp.Step != ramp.DefaultStep {
		t.Errorf("ramp step = %d, want %d", cfg.Ramp.Step, ramp.DefaultStep)
	}
	if cfg.Actuator.Type != "log" || cfg.Web.Listen != "127.0.0.1:8080" || cfg.Store.Path != "espnow-lamp.db" {
		t.Errorf("defaults = %+v %+v %+v", cfg.Actuator, cfg.Web, cfg.Store)
	}
	if cfg.MQTT.TopicPrefix != "espnow-lamp" || cfg.ScriptsDir != "scripts" || cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("defaults = %+v %q %+v", cfg.MQTT, cfg.ScriptsDir, cfg.Log)
	}
}

func TestLoadConfigFull(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
node:
  name: desk
  restore_level: true
radio:
  type: loopback
  mac: "aa:bb:cc:dd:ee:ff"
pairing:
  key: key_2
  bind_window: 10s
  rssi_threshold: -70
ramp:
  step: 5
button:
  enabled: true
  line: 17
  active_low: true
  debounce: 5ms
  long_press: 800ms
actuator:
  type: pwm
  chip: 1
  channel: 2
  period: 1ms
mqtt:
  enabled: true
  broker: tcp://localhost:1883
  discovery: true
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Node.Name != "desk" || !cfg.Node.RestoreLevel {
		t.Errorf("node = %+v", cfg.Node)
	}
	if cfg.Pairing.BindWindow != 10*time.Second || cfg.Pairing.BindTimeout != 10*time.Second || *cfg.Pairing.RSSIThreshold != -70 {
		t.Errorf("pairing = %+v", cfg.Pairing)
	}
	if key, _ := parseKey(cfg.Pairing.Key); key != espnow.AttributeKey2 {
		t.Errorf("key = %v", key)
	}
	if cfg.Button.Debounce != 5*time.Millisecond || cfg.Button.LongPress != 800*time.Millisecond || cfg.Button.Line != 17 {
		t.Errorf("button = %+v", cfg.Button)
	}
	if cfg.Actuator.Period != time.Millisecond || cfg.Actuator.Channel != 2 {
		t.Errorf("actuator = %+v", cfg.Actuator)
	}
	if !cfg.MQTT.Discovery {
		t.Error("mqtt discovery should be enabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"serial without port", "radio:\n  type: serial\n", "radio.port"},
		{"unknown radio", "radio:\n  type: wifi\n", "unknown radio type"},
		{"bad loopback mac", "radio:\n  type: loopback\n  mac: nope\n", "radio.mac"},
		{"unknown key", "radio:\n  type: loopback\npairing:\n  key: key_9\n", "pairing.key"},
		{"zero rssi", "radio:\n  type: loopback\npairing:\n  rssi_threshold: 0\n", "rssi_threshold"},
		{"positive rssi", "radio:\n  type: loopback\npairing:\n  rssi_threshold: 10\n", "rssi_threshold"},
		{"step too large", "radio:\n  type: loopback\nramp:\n  step: 101\n", "ramp.step"},
		{"negative step", "radio:\n  type: loopback\nramp:\n  step: -1\n", "ramp.step"},
		{"unknown actuator", "radio:\n  type: loopback\nactuator:\n  type: relay\n", "unknown actuator"},
		{"mqtt without broker", "radio:\n  type: loopback\nmqtt:\n  enabled: true\n", "mqtt.broker"},
		{"loopback defaults", "radio:\n  type: loopback\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := loadConfig(writeConfig(t, "radio: [")); err == nil {
		t.Error("malformed yaml should fail")
	}
}

func TestParseKey(t *testing.T) {
	for _, want := range []espnow.Attribute{espnow.AttributeKey1, espnow.AttributeKey2, espnow.AttributeKey3} {
		got, err := parseKey(want.String())
		if err != nil || got != want {
			t.Errorf("parseKey(%q) = %v, %v", want.String(), got, err)
		}
	}
	if _, err := parseKey("power"); err == nil {
		t.Error("power is not a key")
	}
}

func TestCreateRadioAndActuator(t *testing.T) {
	cfg := &Config{}
	cfg.Radio.Type = "loopback"
	cfg.applyDefaults()
	radio, err := createRadio(cfg, newLogger(cfg))
	if err != nil {
		t.Fatal(err)
	}
	defer radio.Close()
	if lr, ok := radio.(*espnow.LoopbackRadio); !ok || lr.MAC().String() != "02:00:00:00:00:01" {
		t.Errorf("radio = %T %v", radio, radio)
	}

	act, err := createActuator(cfg, newLogger(cfg))
	if err != nil {
		t.Fatal(err)
	}
	if err := act.SetLevel(40); err != nil {
		t.Errorf("log actuator: %v", err)
	}
}
