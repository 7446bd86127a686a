package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger. Components derive named children from it.
var Logger *zap.SugaredLogger

func init() {
	// Safe no-op logger until Initialize is called
	Logger = zap.NewNop().Sugar()
}

// Options selects encoding, level and destination of the global logger
type Options struct {
	JSON  bool
	Level zapcore.Level

	// Output defaults to stderr so command output on stdout stays parseable
	Output zapcore.WriteSyncer
}

// Initialize sets up the global logger at info level.
func Initialize(jsonOutput bool) error {
	return InitializeWithLevel(jsonOutput, zapcore.InfoLevel)
}

// InitializeWithLevel sets up the global logger with an explicit minimum level.
// The CLI derives the level from -v flags via VerbosityToLevel.
func InitializeWithLevel(jsonOutput bool, level zapcore.Level) error {
	return Configure(Options{JSON: jsonOutput, Level: level})
}

// Configure replaces the global logger.
func Configure(opts Options) error {
	out := opts.Output
	if out == nil {
		out = zapcore.Lock(os.Stderr)
	}

	var encoder zapcore.Encoder
	if opts.JSON {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, out, zap.NewAtomicLevelAt(opts.Level))
	Logger = zap.New(core, zap.ErrorOutput(out)).Sugar()
	return nil
}

// Named returns a child of the global logger for a component.
func Named(component string) *zap.SugaredLogger {
	return Logger.Named(component)
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
