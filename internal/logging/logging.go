package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels constants.
const (
	None = iota
	Error
	Warning
	Info
	Debug
)

var currentLevel atomic.Int32 // Stores the current logging level atomically.

var (
	mu           sync.RWMutex
	logger       *zap.Logger // Plain logger used for error/warn/info.
	callerLogger *zap.Logger // Same core, annotated with caller info for debug output.
)

func init() {
	// Default log level is Info.
	currentLevel.Store(Info)
	SetOutput(os.Stderr)
}

// newCore builds the console core shared by both loggers. Level filtering is
// done by currentLevel, so the core itself accepts everything.
func newCore(w io.Writer) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), zapcore.DebugLevel)
}

// SetLevel atomically sets the global logging level.
// It clamps the input level to the valid range [None, Debug].
func SetLevel(level int) {
	if level < None {
		level = None
	} else if level > Debug {
		level = Debug
	}
	currentLevel.Store(int32(level))
	if level >= Debug {
		logf(Debug, "Log level set to %d", level)
	}
}

// GetLevel atomically retrieves the current logging level.
func GetLevel() int {
	return int(currentLevel.Load())
}

// ParseLevel converts a log level string (case-insensitive) to its integer representation.
// Returns Info level and an error if the string is invalid.
func ParseLevel(levelStr string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "none":
		return None, nil
	case "error":
		return Error, nil
	case "warn", "warning":
		return Warning, nil
	case "info":
		return Info, nil
	case "debug":
		return Debug, nil
	default:
		return Info, fmt.Errorf("invalid log level string: '%s'", levelStr)
	}
}

// SetupLogging configures the logging level based on an input string.
// Logs a warning and uses Info level if the input string is invalid.
// Returns the finally set log level.
func SetupLogging(levelStr string) int {
	level, err := ParseLevel(levelStr)
	if err != nil {
		logf(Warning, "Invalid log level '%s' provided, defaulting to 'info'. Error: %v", levelStr, err)
	}
	SetLevel(level)
	return level
}

// SetOutput changes the output destination of the global logger.
func SetOutput(w io.Writer) {
	core := newCore(w)
	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		_ = logger.Sync()
	}
	logger = zap.New(core)
	callerLogger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
}

// Zap returns the underlying zap logger for callers that want structured fields.
// Entries written through it bypass the level set with SetLevel.
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Enabled reports whether messages at level would currently be written.
func Enabled(level int) bool {
	return level != None && int32(level) <= currentLevel.Load()
}

func logf(level int, format string, v ...interface{}) {
	if !Enabled(level) {
		return
	}
	message := fmt.Sprintf(format, v...)

	mu.RLock()
	l, cl := logger, callerLogger
	mu.RUnlock()

	switch level {
	case Error:
		l.Error(message)
	case Warning:
		l.Warn(message)
	case Info:
		l.Info(message)
	case Debug:
		cl.Debug(message)
	}
}

// Logf logs a formatted message if the specified level is enabled according to the global setting.
func Logf(level int, format string, v ...interface{}) {
	logf(level, format, v...)
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = logger.Sync()
}
