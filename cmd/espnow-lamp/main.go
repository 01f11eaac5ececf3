package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"espnow-lamp/internal/actuator"
	"espnow-lamp/internal/button"
	"espnow-lamp/internal/espnow"
	"espnow-lamp/internal/node"
	"espnow-lamp/internal/store"
	"espnow-lamp/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("espnow-lamp starting", "version", version, "node", cfg.Node.Name)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	radio, err := createRadio(cfg, logger)
	if err != nil {
		logger.Error("create radio", "err", err)
		os.Exit(1)
	}
	defer radio.Close()

	act, err := createActuator(cfg, logger)
	if err != nil {
		logger.Error("create actuator", "err", err)
		os.Exit(1)
	}
	defer act.Close()

	key, _ := parseKey(cfg.Pairing.Key) // checked by validate
	events := node.NewEventBus(logger)
	lamp := node.New(radio, act, db, events, node.Config{
		Name: cfg.Node.Name,
		Key:  key,
		BindWindow: espnow.BindWindow{
			Duration:      cfg.Pairing.BindWindow,
			RSSIThreshold: *cfg.Pairing.RSSIThreshold,
		},
		BindTimeout:  cfg.Pairing.BindTimeout,
		RampStep:     cfg.Ramp.Step,
		RestoreLevel: cfg.Node.RestoreLevel,
	}, logger)

	// A node that cannot bring up its radio or actuator has nothing to do.
	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := lamp.Start(startCtx); err != nil {
		logger.Error("start node", "err", err)
		cancel()
		radio.Close()
		os.Exit(1)
	}
	cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.Button.Enabled {
		src, err := button.NewGPIOSource(button.GPIOConfig{
			Chip:      cfg.Button.Chip,
			Line:      cfg.Button.Line,
			ActiveLow: cfg.Button.ActiveLow,
			Debounce:  cfg.Button.Debounce,
		}, logger)
		if err != nil {
			logger.Error("button", "err", err)
			os.Exit(1)
		}
		defer src.Close()
		go button.Run(ctx, src, button.Config{
			LongPress:    cfg.Button.LongPress,
			HoldInterval: cfg.Button.HoldInterval,
			DoubleClick:  cfg.Button.DoubleClick,
		}, cfg.Pairing.Key, lamp.HandleGesture, logger)
	}

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(lamp, cfg, logger)

	// Start web server
	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)

	webServer, err := web.NewServer(lamp, db, logger, webOpts...)
	if err != nil {
		logger.Error("create web server", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(lamp, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	stop()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	lamp.Stop()

	logger.Info("goodbye")
}

func createRadio(cfg *Config, logger *slog.Logger) (espnow.Radio, error) {
	switch cfg.Radio.Type {
	case "serial":
		logger.Info("using ESP32 serial radio", "port", cfg.Radio.Port, "baud", cfg.Radio.Baud)
		return espnow.NewSerialRadio(cfg.Radio.Port, cfg.Radio.Baud, logger)
	case "loopback":
		mac, err := espnow.ParseMAC(cfg.Radio.MAC)
		if err != nil {
			return nil, err
		}
		// The loopback radio joins a private in-process air with no other
		// members: a standalone simulation that never reaches a real or
		// other-process peer.
		logger.Info("using loopback radio (standalone simulation, no peers)", "mac", mac)
		return espnow.NewAir(logger).Join(mac), nil
	default:
		return nil, fmt.Errorf("unknown radio type: %q (supported: serial, loopback)", cfg.Radio.Type)
	}
}

func createActuator(cfg *Config, logger *slog.Logger) (actuator.Actuator, error) {
	switch cfg.Actuator.Type {
	case "pwm":
		return actuator.NewPWM(actuator.PWMConfig{
			Root:    cfg.Actuator.Root,
			Chip:    cfg.Actuator.Chip,
			Channel: cfg.Actuator.Channel,
			Period:  cfg.Actuator.Period,
		}, logger)
	case "log":
		return actuator.NewLogActuator(logger), nil
	default:
		return nil, fmt.Errorf("unknown actuator type: %q (supported: pwm, log)", cfg.Actuator.Type)
	}
}
