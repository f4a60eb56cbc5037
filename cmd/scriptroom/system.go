package main

import (
	"fmt"
	"log/slog"
	"time"

	"scriptroom/internal/engine"
)

// systemModule exposes clock helpers and logging:
//
//	System.datetime(component)
//	System.timeBetween(fromHour, toHour)
//	System.log(level, msg)
func systemModule(logger *slog.Logger, now func() time.Time) engine.Module {
	logger = logger.With("component", "script")
	return engine.Module{
		Name: "System",
		Funcs: map[string]engine.HostFunc{
			"datetime": func(call engine.Call) (any, error) {
				return datetime(now(), call.String(0))
			},
			"timeBetween": func(call engine.Call) (any, error) {
				from, err := intArg(call, 0)
				if err != nil {
					return nil, fmt.Errorf("System.timeBetween: %w", err)
				}
				to, err := intArg(call, 1)
				if err != nil {
					return nil, fmt.Errorf("System.timeBetween: %w", err)
				}
				return hourBetween(now().Hour(), from, to), nil
			},
			"log": func(call engine.Call) (any, error) {
				msg := call.String(1)
				switch call.String(0) {
				case "debug":
					logger.Debug("script log", "script", call.ScriptID, "msg", msg)
				case "warn":
					logger.Warn("script log", "script", call.ScriptID, "msg", msg)
				case "error":
					logger.Error("script log", "script", call.ScriptID, "msg", msg)
				default:
					logger.Info("script log", "script", call.ScriptID, "msg", msg)
				}
				return nil, nil
			},
		},
	}
}

func datetime(t time.Time, component string) (any, error) {
	switch component {
	case "hour":
		return t.Hour(), nil
	case "minute":
		return t.Minute(), nil
	case "second":
		return t.Second(), nil
	case "weekday":
		return int(t.Weekday()), nil
	case "day":
		return t.Day(), nil
	case "month":
		return int(t.Month()), nil
	case "year":
		return t.Year(), nil
	case "timestamp":
		return t.UnixMilli(), nil
	case "time_str":
		return t.Format("15:04:05"), nil
	case "date_str":
		return t.Format("2006-01-02"), nil
	}
	return nil, fmt.Errorf("System.datetime: unknown component %q", component)
}

// hourBetween reports whether hour lies in [from, to), wrapping past
// midnight when from > to.
func hourBetween(hour, from, to int) bool {
	if from <= to {
		return hour >= from && hour < to
	}
	return hour >= from || hour < to
}

func intArg(call engine.Call, i int) (int, error) {
	switch v := call.Arg(i).(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("argument %d must be a number, got %T", i+1, call.Arg(i))
}
