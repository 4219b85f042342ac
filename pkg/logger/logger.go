package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is an alias for zap.Logger for consistency across the codebase.
type Logger = *zap.Logger

// Options configures the process-wide logger: its level and the
// initial fields every line carries, naming which component and model
// produced it. The encoding is not part of Options; New picks it from
// SENTRY_LOG_FORMAT for every binary alike.
type Options struct {
	Level string
	// Component names the binary or worker emitting the line, e.g.
	// "sentryd", "sentryctl", "monitoring-engine". Omitted if empty.
	Component string
	// ModelName attaches the target model (cfg.ModelName) to every
	// line, so log aggregation can filter C1-C5 activity per model
	// without parsing the message text. Omitted if empty.
	ModelName string
}

// New builds the zap logger every component is built around. Unrecognized
// levels fall back to info rather than failing startup. Output defaults
// to JSON; setting SENTRY_LOG_FORMAT=console switches to a colorized,
// human-oriented encoding for local development.
func New(opts Options) (*zap.Logger, error) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if os.Getenv("SENTRY_LOG_FORMAT") == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), parseLevel(opts.Level))

	var fields []zap.Field
	if opts.Component != "" {
		fields = append(fields, zap.String("component", opts.Component))
	}
	if opts.ModelName != "" {
		fields = append(fields, zap.String("model", opts.ModelName))
	}

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel), zap.Fields(fields...)), nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Must panics on a logger construction failure. Used at process startup,
// where a broken log configuration is unrecoverable.
func Must(opts Options) *zap.Logger {
	l, err := New(opts)
	if err != nil {
		panic(err)
	}
	return l
}
