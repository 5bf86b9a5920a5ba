package logger

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production JSON logger at the given level.
func New(level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build()
	if err != nil {
		// Config above is static; Build only fails on bad output paths.
		return zap.NewNop()
	}
	return log
}

// ParseLevel maps a tenant-supplied level string to a zap level. Accepts the
// usual names (TRACE/DEBUG/INFO/WARN/ERROR, any casing) plus numeric values
// where 0 is debug and higher numbers are more severe. TRACE maps to debug,
// the closest level zap offers.
func ParseLevel(s string) (zapcore.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE", "DEBUG":
		return zapcore.DebugLevel, true
	case "INFO":
		return zapcore.InfoLevel, true
	case "WARN", "WARNING":
		return zapcore.WarnLevel, true
	case "ERROR":
		return zapcore.ErrorLevel, true
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		switch {
		case n <= 0:
			return zapcore.DebugLevel, true
		case n == 1:
			return zapcore.InfoLevel, true
		case n == 2:
			return zapcore.WarnLevel, true
		default:
			return zapcore.ErrorLevel, true
		}
	}
	return zapcore.InfoLevel, false
}

// IsValidLevel reports whether s is an accepted logLevel config value.
func IsValidLevel(s string) bool {
	_, ok := ParseLevel(s)
	return ok
}
