// Package logging builds the process logger and the structured fields shared by every stage.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"ridesaga/internal/config"
)

// Field names used across stages so log queries can join on them.
const (
	FieldService       = "service"
	FieldRideID        = "ride_id"
	FieldDriverID      = "driver_id"
	FieldPaymentID     = "payment_id"
	FieldCorrelationID = "correlation_id"
	FieldDetailType    = "detail_type"
	FieldEventID       = "event_id"
)

// New creates a logger from configuration.
func New(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ForService scopes a logger to one saga stage.
func ForService(logger logrus.FieldLogger, service string) *logrus.Entry {
	return logger.WithField(FieldService, service)
}
