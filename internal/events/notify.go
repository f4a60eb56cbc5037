package events

import "log/slog"

// Level is the severity of a user-visible notification.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
	LevelSuccess Level = "SUCCESS"
)

// ParseLevel maps free-form input onto a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelWarning, LevelError, LevelSuccess:
		return Level(s)
	}
	switch s {
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	case "success":
		return LevelSuccess
	}
	return LevelInfo
}

// Notification is the payload of EventNotification.
type Notification struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Notifier surfaces a message to the user.
type Notifier interface {
	Notify(level Level, msg string)
}

// Notify publishes a notification and mirrors it to the log.
func (b *Bus) Notify(level Level, msg string) {
	switch level {
	case LevelError:
		b.logger.Error("notification", "msg", msg)
	case LevelWarning:
		b.logger.Warn("notification", "msg", msg)
	default:
		b.logger.Info("notification", "level", string(level), "msg", msg)
	}
	b.emit(EventNotification, Notification{Level: level, Message: msg})
}

// LogNotifier only logs. Used where no bus is wired.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(level Level, msg string) {
	n.Logger.Info("notification", "level", string(level), "msg", msg)
}
