package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/spooky-finn/go-streambridge/config"
)

var root = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Setup applies the logging section of the config to the process-wide logger.
func Setup(cfg config.LoggingConfig) {
	if lvl, err := logrus.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
		root.SetLevel(lvl)
	}
	if config.DebugMode {
		root.SetLevel(logrus.DebugLevel)
	}

	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		root.SetOutput(io.MultiWriter(os.Stdout, rotated))
		root.SetFormatter(&logrus.JSONFormatter{})
	}
}

// WithComponent returns an entry scoped to one component of the bridge.
func WithComponent(component string) *logrus.Entry {
	return root.WithField("component", component)
}

// WithProvider returns an entry scoped to a component of one provider.
func WithProvider(component, provider string) *logrus.Entry {
	return root.WithFields(logrus.Fields{
		"component": component,
		"provider":  provider,
	})
}
