package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// AsynqLogger adapts zerolog to the broker's Logger interface.
type AsynqLogger struct {
	logger *zerolog.Logger
}

func NewAsynqLogger(logger *zerolog.Logger) *AsynqLogger {
	return &AsynqLogger{logger: Component(logger, "asynq")}
}

func (l *AsynqLogger) Debug(args ...interface{}) {
	l.logger.Debug().Msg(fmt.Sprint(args...))
}

func (l *AsynqLogger) Info(args ...interface{}) {
	l.logger.Info().Msg(fmt.Sprint(args...))
}

func (l *AsynqLogger) Warn(args ...interface{}) {
	l.logger.Warn().Msg(fmt.Sprint(args...))
}

func (l *AsynqLogger) Error(args ...interface{}) {
	l.logger.Error().Msg(fmt.Sprint(args...))
}

// Fatal logs at fatal level; zerolog exits the process afterwards.
func (l *AsynqLogger) Fatal(args ...interface{}) {
	l.logger.Fatal().Msg(fmt.Sprint(args...))
}
