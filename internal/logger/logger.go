package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu           sync.RWMutex
	currentLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar        = newSugar("text", "stdout")
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts a case-insensitive level name into a Level.
// Unknown names map to LevelInfo.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(level string) {
	currentLevel.SetLevel(ParseLevel(level).zapLevel())
}

// Configure replaces the process-wide logger.
//
// Parameters:
//   - level: DEBUG, INFO, WARN or ERROR
//   - format: "text" (console encoder) or "json"
//   - output: "stdout", "stderr" or a file path (opened in append mode)
func Configure(level, format, output string) error {
	next, err := buildSugar(format, output)
	if err != nil {
		return err
	}

	SetLevel(level)

	mu.Lock()
	defer mu.Unlock()
	_ = sugar.Sync()
	sugar = next
	return nil
}

func newSugar(format, output string) *zap.SugaredLogger {
	s, err := buildSugar(format, output)
	if err != nil {
		s, _ = buildSugar(format, "stdout")
	}
	return s
}

func buildSugar(format, output string) (*zap.SugaredLogger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.ConsoleSeparator = " "
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer
	switch output {
	case "", "stdout":
		sink = zapcore.Lock(os.Stdout)
	case "stderr":
		sink = zapcore.Lock(os.Stderr)
	default:
		ws, _, err := zap.Open(output)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %q: %w", output, err)
		}
		sink = ws
	}

	return zap.New(zapcore.NewCore(encoder, sink, currentLevel)).Sugar(), nil
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Debug(format string, v ...any) {
	get().Debugf(format, v...)
}

func Info(format string, v ...any) {
	get().Infof(format, v...)
}

func Warn(format string, v ...any) {
	get().Warnf(format, v...)
}

func Error(format string, v ...any) {
	get().Errorf(format, v...)
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	_ = get().Sync()
}
