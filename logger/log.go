package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Log *zap.Logger

func init() {
	Log = newLogger(zapcore.DebugLevel, false, zapcore.AddSync(os.Stdout))
}

// Options mirrors the log section of the gateway config.
type Options struct {
	Level      string
	JSON       bool
	File       string // rotated by lumberjack; empty writes to stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init rebuilds the global logger. Unknown levels fall back to info.
func Init(o Options) {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(o.Level)))); err != nil {
		lvl = zapcore.InfoLevel
	}
	if o.File == "" {
		Log = newLogger(lvl, o.JSON, zapcore.AddSync(os.Stdout))
		return
	}
	Log = newLogger(lvl, true, zapcore.AddSync(&lumberjack.Logger{
		Filename:   o.File,
		MaxSize:    o.MaxSizeMB,
		MaxBackups: o.MaxBackups,
		MaxAge:     o.MaxAgeDays,
		Compress:   true,
	}))
}

func newLogger(lvl zapcore.Level, json bool, out zapcore.WriteSyncer) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalColorLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	if json {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, out, lvl)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Named returns a child logger for one component.
func Named(name string) *zap.Logger { return Log.WithOptions(zap.AddCallerSkip(-1)).Named(name) }

func Sync() { _ = Log.Sync() }

func Info(msg string, fields ...zap.Field) { Log.Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	Log.Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field)  { Log.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }

func Errorf(format string, args ...interface{}) {
	Log.Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
