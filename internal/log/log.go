// Package log provides centralized logging functionality using zap logger.
package log

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	mu         sync.RWMutex
	log        *zap.SugaredLogger
	baseLogger *zap.Logger
)

// Init initializes the package-level logger
func Init(debug bool) error {
	var zapLogger *zap.Logger
	var err error

	if debug {
		zapLogger, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	} else {
		zapLogger, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %v", err)
	}

	SetLogger(zapLogger)
	return nil
}

// SetLogger replaces the package-level logger. Tests use it with zap.NewNop().
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	baseLogger = l
	log = l.Sugar()
}

// GetZapLogger returns the base zap logger for cases where it's needed (like GORM)
func GetZapLogger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if baseLogger == nil {
		// Fallback logger if not initialized
		baseLogger, _ = zap.NewProduction(zap.AddCallerSkip(1))
		log = baseLogger.Sugar()
	}
	return baseLogger
}

// GetSugaredLogger returns the sugared logger instance
func GetSugaredLogger() *zap.SugaredLogger {
	GetZapLogger()
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Named returns a child of the package logger tagged with a component field.
func Named(component string) *zap.SugaredLogger {
	return GetSugaredLogger().With("component", component)
}

// Sync flushes any buffered log entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}

// Package-level convenience functions

func Infow(msg string, keysAndValues ...interface{}) {
	GetSugaredLogger().Infow(msg, keysAndValues...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	GetSugaredLogger().Warnw(msg, keysAndValues...)
}

func Error(args ...interface{}) {
	GetSugaredLogger().Error(args...)
}

func Errorf(template string, args ...interface{}) {
	GetSugaredLogger().Errorf(template, args...)
}
