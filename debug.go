// Package main - debug.go
//
// Centralized logging for the bot.
//
// The logger writes to Debug.log (truncated on each startup so the file only
// ever holds the current session) and mirrors warnings and errors to stderr.
// Formatting and rotation-free file handling are delegated to zap; the rest of
// the codebase only sees the four convenience functions below.
//
// Logging conventions:
//   - DEBUG: per-cycle detail (fractions, state transitions, injected keys)
//   - INFO: important events (startup, calibration, arm/disarm, list switch)
//   - WARN: non-critical issues (dispatch failure, stale config)
//   - ERROR: serious problems (capture failure, config parse errors)
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var globalLogger *zap.SugaredLogger

// InitLogger initializes the global logger writing to Debug.log in the current
// directory. The log file is cleared on each startup.
func InitLogger(verbose bool) error {
	file, err := os.OpenFile("Debug.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	encoder := zapcore.NewConsoleEncoder(encCfg)

	fileLevel := zapcore.InfoLevel
	if verbose {
		fileLevel = zapcore.DebugLevel
	}

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(file), fileLevel),
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), zapcore.WarnLevel),
	)
	globalLogger = zap.New(core).Sugar()
	globalLogger.Info("Logger initialized (log file cleared)")
	return nil
}

// CloseLogger flushes any buffered log entries
func CloseLogger() {
	if globalLogger != nil {
		globalLogger.Info("Logger closing")
		_ = globalLogger.Sync()
	}
}

// LogDebug logs debug level messages
func LogDebug(format string, v ...interface{}) {
	if globalLogger != nil {
		globalLogger.Debugf(format, v...)
	}
}

// LogInfo logs info level messages
func LogInfo(format string, v ...interface{}) {
	if globalLogger != nil {
		globalLogger.Infof(format, v...)
	}
}

// LogWarn logs warning level messages
func LogWarn(format string, v ...interface{}) {
	if globalLogger != nil {
		globalLogger.Warnf(format, v...)
	}
}

// LogError logs error level messages
func LogError(format string, v ...interface{}) {
	if globalLogger != nil {
		globalLogger.Errorf(format, v...)
	}
}
