package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logLevel is shared by every logger so -debug can be toggled at runtime.
var logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

var logger = newLogger()

func newLogger() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = logLevel
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(l)
	return l.Sugar()
}

func setDebug(on bool) {
	if on {
		logLevel.SetLevel(zap.DebugLevel)
		return
	}
	logLevel.SetLevel(zap.InfoLevel)
}

// Hot path callers should check debugEnabled() first
// to avoid expensive argument evaluation (e.g., HashID.String()).
func debugEnabled() bool {
	return logLevel.Enabled(zap.DebugLevel)
}

func debug(format string, v ...any) {
	logger.Debugf(format, v...)
}

func info(format string, v ...any) {
	logger.Infof(format, v...)
}

func warn(format string, v ...any) {
	logger.Warnf(format, v...)
}

func errorLog(format string, v ...any) {
	logger.Errorf(format, v...)
}
