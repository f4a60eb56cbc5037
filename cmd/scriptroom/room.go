package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scriptroom/internal/engine"
	"scriptroom/internal/events"
	"scriptroom/internal/session"
	"scriptroom/internal/transport"
)

// capabilitiesVersion is bumped whenever a module or function is added.
const capabilitiesVersion = "1"

const roomSendTimeout = 5 * time.Second

// roomHost is the slice of the session the Room module needs.
type roomHost interface {
	Participant() session.Participant
	Notify(level events.Level, msg string)
}

// roomModule exposes the room to scripts:
//
//	Room.notify(text, level)
//	Room.send(channel, payload, destination) // destination defaults to REMOTE
//	Room.participant()
func roomModule(host roomHost, msgr transport.Messenger) engine.Module {
	return engine.Module{
		Name: "Room",
		Funcs: map[string]engine.HostFunc{
			"notify": func(call engine.Call) (any, error) {
				host.Notify(events.ParseLevel(call.String(1)), call.String(0))
				return nil, nil
			},
			"send": func(call engine.Call) (any, error) {
				channel := call.String(0)
				if channel == "" {
					return nil, fmt.Errorf("Room.send: channel is required")
				}
				dest, err := transport.ParseDestination(call.String(2))
				if err != nil {
					return nil, fmt.Errorf("Room.send: %w", err)
				}
				ctx, cancel := context.WithTimeout(context.Background(), roomSendTimeout)
				defer cancel()
				if err := msgr.Send(ctx, channel, call.Arg(1), dest); err != nil {
					return nil, fmt.Errorf("Room.send: %w", err)
				}
				return nil, nil
			},
			"participant": func(engine.Call) (any, error) {
				p := host.Participant()
				return map[string]any{
					"id":   p.ID,
					"name": p.Name,
					"role": string(p.Role),
				}, nil
			},
		},
	}
}

// capabilities is the module set bound into every script, in binding order.
func capabilities(host roomHost, msgr transport.Messenger, logger *slog.Logger) engine.Capabilities {
	return engine.Capabilities{
		Version: capabilitiesVersion,
		Modules: []engine.Module{
			roomModule(host, msgr),
			systemModule(logger, time.Now),
		},
	}
}
