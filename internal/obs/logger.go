// Copyright 2025 James Ross
package obs

import (
    "os"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "gopkg.in/natefinch/lumberjack.v2"
)

func NewLogger(level string) (*zap.Logger, error) {
    lvl := zapcore.InfoLevel
    switch strings.ToLower(level) {
    case "debug":
        lvl = zapcore.DebugLevel
    case "warn":
        lvl = zapcore.WarnLevel
    case "error":
        lvl = zapcore.ErrorLevel
    }
    cfg := zap.NewProductionConfig()
    cfg.Level = zap.NewAtomicLevelAt(lvl)
    cfg.Encoding = "json"
    return cfg.Build()
}

// NewRotatingLogger builds a zap logger that writes JSON lines to a
// lumberjack-rotated file in addition to stdout, for long-running deployments
// where log retention matters more than container-log capture.
func NewRotatingLogger(level, logFile string, maxSizeMB, maxBackups, maxAgeDays int) (*zap.Logger, error) {
    lvl := zapcore.InfoLevel
    switch strings.ToLower(level) {
    case "debug":
        lvl = zapcore.DebugLevel
    case "warn":
        lvl = zapcore.WarnLevel
    case "error":
        lvl = zapcore.ErrorLevel
    }

    encoderCfg := zap.NewProductionEncoderConfig()
    encoderCfg.TimeKey = "ts"
    encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
    encoder := zapcore.NewJSONEncoder(encoderCfg)

    rotator := &lumberjack.Logger{
        Filename:   logFile,
        MaxSize:    maxSizeMB,
        MaxBackups: maxBackups,
        MaxAge:     maxAgeDays,
        Compress:   true,
    }

    core := zapcore.NewTee(
        zapcore.NewCore(encoder, zapcore.AddSync(rotator), lvl),
        zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), lvl),
    )
    return zap.New(core, zap.AddCaller()), nil
}

// Convenience typed fields
func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field { return zap.Error(err) }
