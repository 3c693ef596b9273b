package logging

import (
	"strings"

	"golang.org/x/exp/slog"
)

// Encoding selects how a handler renders records: structured (JSON,
// logfmt via slog's text handler) or the human-oriented plain handler
// in plain-handler.go.
type Encoding string

const (
	EncodingJSON   Encoding = "json"
	EncodingLogfmt Encoding = "logfmt"
	EncodingPlain  Encoding = "plain"
)

// LevelUnknown is returned by LevelFromString for any input that isn't
// one of the named levels below, and rejected by New/Init the same way
// an unparsable level would be.
const LevelUnknown = LevelPanic + 1

// LevelFromString maps a case-insensitive level name to its slog.Level,
// or LevelUnknown if s doesn't name one.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case debugLevel:
		return LevelDebug
	case infoLevel:
		return LevelInfo
	case warnLevel:
		return LevelWarn
	case errorLevel:
		return LevelError
	case fatalLevel:
		return LevelFatal
	case panicLevel:
		return LevelPanic
	default:
		return LevelUnknown
	}
}
