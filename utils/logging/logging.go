package logging

import (
	"log/slog"
)

type LogCode string

const (
	// SYSTEM EVENTS (SYSTEM*)
	SYSTEM LogCode = "SYSTEM"

	// NOTE OPERATIONS (NOTE*)
	NOTE_CREATE LogCode = "NOTE_CREATE"
	NOTE_DELETE LogCode = "NOTE_DELETE"

	// PROFILE OPERATIONS (PROFILE*)
	PROFILE_CREATE LogCode = "PROFILE_CREATE"
	PROFILE_UPDATE LogCode = "PROFILE_UPDATE"
	ORG_CREATE     LogCode = "ORG_CREATE"

	// MIRROR OPERATIONS (MIRROR*)
	MIRROR_SYNC LogCode = "MIRROR_SYNC"

	// REGISTRATION
	ACTIVATION LogCode = "ACTIVATION"
)

func Code(code LogCode) slog.Attr {
	return slog.String("code", string(code))
}

// VictoriaLogs has fixed field names for time (_time) and message (_msg).
func convertKeysToVictoriaLogs(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "_time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
	}
	if a.Key == slog.MessageKey {
		return slog.Attr{Key: "_msg", Value: a.Value}
	}
	return a
}

func GetVictoriaLogsOptions(addSource bool) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: convertKeysToVictoriaLogs,
		AddSource:   addSource,
	}
}
