// Package logging wraps logrus with the broker's conventions: one dedicated
// logger (never the http access log of whatever transport is bound on top),
// JSON or text formatting, and level taken from BROKER_LOG_LEVEL.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls the wrapped logrus.Logger.
type Config struct {
	Level  string
	Format string
}

// Logger is a thin wrapper so call sites depend on this package, not logrus
// directly.
type Logger struct {
	*logrus.Logger
}

// New builds a Logger from Config, defaulting to info/text on bad input.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l.SetOutput(os.Stdout)
	return &Logger{Logger: l}
}

// NewDefault returns an info/text logger, used where no Config is wired yet
// (background helpers, tests).
func NewDefault() *Logger {
	return New(Config{Level: "info", Format: "text"})
}

func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithReview scopes a log entry to a review id, the broker's most common
// correlation key.
func (l *Logger) WithReview(reviewID string) *logrus.Entry {
	return l.Logger.WithField("review_id", reviewID)
}

// WithReviewer scopes a log entry to a reviewer id.
func (l *Logger) WithReviewer(reviewerID string) *logrus.Entry {
	return l.Logger.WithField("reviewer_id", reviewerID)
}
