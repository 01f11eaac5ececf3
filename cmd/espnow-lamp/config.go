package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"espnow-lamp/internal/espnow"
	"espnow-lamp/internal/ramp"
)

type Config struct {
	Node struct {
		Name         string `yaml:"name"`
		RestoreLevel bool   `yaml:"restore_level"`
	} `yaml:"node"`
	Radio struct {
		Type string `yaml:"type"` // "serial" or "loopback"
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
		MAC  string `yaml:"mac"` // loopback only
	} `yaml:"radio"`
	Pairing struct {
		Key           string        `yaml:"key"` // key_1, key_2, key_3
		BindWindow    time.Duration `yaml:"bind_window"`
		RSSIThreshold *int8         `yaml:"rssi_threshold"` // nil selects the default
		BindTimeout   time.Duration `yaml:"bind_timeout"`
	} `yaml:"pairing"`
	Ramp struct {
		Step int `yaml:"step"`
	} `yaml:"ramp"`
	Button struct {
		Enabled      bool          `yaml:"enabled"`
		Chip         string        `yaml:"chip"`
		Line         int           `yaml:"line"`
		ActiveLow    bool          `yaml:"active_low"`
		Debounce     time.Duration `yaml:"debounce"`
		LongPress    time.Duration `yaml:"long_press"`
		HoldInterval time.Duration `yaml:"hold_interval"`
		DoubleClick  time.Duration `yaml:"double_click"`
	} `yaml:"button"`
	Actuator struct {
		Type    string        `yaml:"type"` // "pwm" or "log"
		Root    string        `yaml:"root"`
		Chip    int           `yaml:"chip"`
		Channel int           `yaml:"channel"`
		Period  time.Duration `yaml:"period"`
	} `yaml:"actuator"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
		Discovery   bool   `yaml:"discovery"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	switch c.Radio.Type {
	case "serial":
		if c.Radio.Port == "" {
			return fmt.Errorf("radio.port is required for the serial radio")
		}
	case "loopback":
		if _, err := espnow.ParseMAC(c.Radio.MAC); err != nil {
			return fmt.Errorf("radio.mac: %w", err)
		}
	default:
		return fmt.Errorf("unknown radio type: %q (supported: serial, loopback)", c.Radio.Type)
	}
	if _, err := parseKey(c.Pairing.Key); err != nil {
		return err
	}
	if *c.Pairing.RSSIThreshold >= 0 {
		return fmt.Errorf("pairing.rssi_threshold must be below 0 dBm, got %d", *c.Pairing.RSSIThreshold)
	}
	if c.Ramp.Step < 1 || c.Ramp.Step > 100 {
		return fmt.Errorf("ramp.step must be 1-100, got %d", c.Ramp.Step)
	}
	switch c.Actuator.Type {
	case "pwm", "log":
	default:
		return fmt.Errorf("unknown actuator type: %q (supported: pwm, log)", c.Actuator.Type)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// parseKey maps a config key name to its initiator attribute.
func parseKey(s string) (espnow.Attribute, error) {
	for _, a := range []espnow.Attribute{espnow.AttributeKey1, espnow.AttributeKey2, espnow.AttributeKey3} {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("pairing.key must be key_1, key_2 or key_3, got %q", s)
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Node.Name == "" {
		c.Node.Name = "lamp"
	}
	if c.Radio.Type == "" {
		c.Radio.Type = "serial"
	}
	if c.Radio.Baud == 0 {
		c.Radio.Baud = 115200
	}
	if c.Radio.Type == "loopback" && c.Radio.MAC == "" {
		c.Radio.MAC = "02:00:00:00:00:01"
	}
	if c.Pairing.Key == "" {
		c.Pairing.Key = espnow.AttributeKey1.String()
	}
	if c.Pairing.BindWindow == 0 {
		c.Pairing.BindWindow = espnow.DefaultBindWindow
	}
	if c.Pairing.RSSIThreshold == nil {
		v := int8(espnow.DefaultRSSIThreshold)
		c.Pairing.RSSIThreshold = &v
	}
	if c.Pairing.BindTimeout == 0 {
		c.Pairing.BindTimeout = c.Pairing.BindWindow
	}
	if c.Ramp.Step == 0 {
		c.Ramp.Step = ramp.DefaultStep
	}
	if c.Actuator.Type == "" {
		c.Actuator.Type = "log"
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:8080"
	}
	if c.Store.Path == "" {
		c.Store.Path = "espnow-lamp.db"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "espnow-lamp"
	}
	if c.ScriptsDir == "" {
		c.ScriptsDir = "scripts"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
