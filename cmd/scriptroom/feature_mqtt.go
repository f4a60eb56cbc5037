//go:build !no_mqtt

package main

import (
	"log/slog"

	mqttbridge "scriptroom/internal/mqtt"
	"scriptroom/internal/transport"
)

// initTransport connects to the room over MQTT, or falls back to a
// single-participant in-process room when MQTT is disabled.
func initTransport(cfg *Config, logger *slog.Logger) (transport.Transport, error) {
	if !cfg.MQTT.Enabled {
		logger.Info("mqtt disabled, using in-process room")
		return transport.NewHub(logger).Join(cfg.Participant.ID), nil
	}
	bridge, err := mqttbridge.NewBridge(cfg.Participant.ID, mqttbridge.Config{
		Broker:      cfg.MQTT.Broker,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		Room:        cfg.Room.ID,
	}, logger)
	if err != nil {
		return nil, err
	}
	return bridge, nil
}
