//go:build no_automation

package main

import (
	"log/slog"

	"espnow-lamp/internal/node"
	"espnow-lamp/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *node.Node, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
