// Package log is the levelled logger shared by every hellotrace package.
// Messages below the configured level are dropped before formatting.
package log

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

// traceLevel sits below zap's debug level.
const traceLevel = zapcore.DebugLevel - 1

var (
	current atomic.Int32

	mu       sync.RWMutex
	logger   = zap.NewNop()
	cores    []zapcore.Core
	buffered *zapcore.BufferedWriteSyncer
)

func init() {
	current.Store(int32(LevelInfo))
}

// Init replaces every output with w. Without instaflush, writes are buffered
// and flushed once a second or by Flush.
func Init(w io.Writer, level Level, instaflush bool) {
	ws := zapcore.AddSync(w)

	mu.Lock()
	defer mu.Unlock()
	if buffered != nil {
		_ = buffered.Stop()
		buffered = nil
	}
	if !instaflush {
		buffered = &zapcore.BufferedWriteSyncer{WS: ws, FlushInterval: time.Second}
		ws = buffered
	}
	cores = []zapcore.Core{zapcore.NewCore(newEncoder(), ws, allLevels)}
	logger = zap.New(zapcore.NewTee(cores...))
	current.Store(int32(level))
}

func SetLevel(level Level) { current.Store(int32(level)) }

func CurrentLevel() Level { return Level(current.Load()) }

// Enabled reports whether a message at level would be written.
func Enabled(level Level) bool { return Level(current.Load()) >= level }

// Flush writes out anything held by the buffered writer.
func Flush() {
	mu.RLock()
	defer mu.RUnlock()
	_ = logger.Sync()
}

func Errorf(format string, args ...any) { logf(LevelError, zapcore.ErrorLevel, format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarn, zapcore.WarnLevel, format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, zapcore.InfoLevel, format, args...) }
func Debugf(format string, args ...any) { logf(LevelDebug, zapcore.DebugLevel, format, args...) }
func Tracef(format string, args ...any) { logf(LevelTrace, traceLevel, format, args...) }

func logf(l Level, zl zapcore.Level, format string, args ...any) {
	if !Enabled(l) {
		return
	}
	mu.RLock()
	lg := logger
	mu.RUnlock()
	if ce := lg.Check(zl, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write()
	}
}

func addCore(c zapcore.Core) {
	mu.Lock()
	defer mu.Unlock()
	cores = append(cores, c)
	logger = zap.New(zapcore.NewTee(cores...))
}

var allLevels = zap.LevelEnablerFunc(func(zapcore.Level) bool { return true })

func newEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:     "ts",
		LevelKey:    "level",
		MessageKey:  "msg",
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeTime:  zapcore.ISO8601TimeEncoder,
		EncodeLevel: encodeLevel,
	})
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == traceLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}
