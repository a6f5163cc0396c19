package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// До Init логгеры no-op, чтобы пакеты и тесты не падали.
var (
	InfoLogger  = zap.NewNop()
	FatalLogger = zap.NewNop()
)

var (
	serviceName = "default"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

// Init поднимает zap: production JSON или development console при debug.
func Init(service string, debug bool) error {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("init zap: %w", err)
	}

	if service != "" {
		SetServiceName(service)
	}
	InfoLogger = l
	FatalLogger = l

	return nil
}

func Sync() {
	_ = InfoLogger.Sync()
}

func Info(format string, args ...interface{}) {
	InfoLogger.With(
		zap.String("service", serviceName),
	).Info(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	InfoLogger.With(
		zap.String("service", serviceName),
	).Warn(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	InfoLogger.With(
		zap.String("service", serviceName),
	).Error(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	FatalLogger.With(
		zap.String("service", serviceName),
	).Fatal(msg)
}
