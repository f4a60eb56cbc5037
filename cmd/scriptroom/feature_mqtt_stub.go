//go:build no_mqtt

package main

import (
	"log/slog"

	"scriptroom/internal/transport"
)

func initTransport(cfg *Config, logger *slog.Logger) (transport.Transport, error) {
	if cfg.MQTT.Enabled {
		logger.Warn("built without mqtt support, using in-process room")
	}
	return transport.NewHub(logger).Join(cfg.Participant.ID), nil
}
