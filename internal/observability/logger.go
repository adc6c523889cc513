package observability

import (
	"math/rand/v2"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger constructs a production zap.Logger for the service. environment
// picks the default level; logLevel, when set, overrides it.
func InitLogger(serviceName, environment, logLevel string) (*zap.Logger, error) {
	return InitLoggerWithLevel(ParseLevel(environment, logLevel), serviceName)
}

// InitLoggerWithLevel constructs a zap.Logger at the provided level.
// The returned logger is named with the service name and installed as the global logger.
func InitLoggerWithLevel(level zapcore.Level, serviceName string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)

	// Field names match what the log shipper expects
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	logger = logger.Named(serviceName).With(zap.String("service", serviceName))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// ParseLevel resolves the log level. Development environments default to
// debug, everything else to info. Unknown explicit levels fall back to info.
func ParseLevel(environment, logLevel string) zapcore.Level {
	if logLevel == "" {
		switch strings.ToLower(environment) {
		case "development", "dev":
			return zap.DebugLevel
		}
		return zap.InfoLevel
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		return zap.InfoLevel
	}
	return lvl
}

// ShouldSample returns true if a debug log should be emitted at the given
// rate (0.0 to 1.0).
func ShouldSample(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	return rand.Float64() < rate
}

// SamplingRate returns the per-request debug sampling rate for an environment.
func SamplingRate(environment string) float64 {
	switch strings.ToLower(environment) {
	case "development", "dev":
		return 1.0
	case "staging", "test":
		return 0.5
	default:
		return 0.1
	}
}
