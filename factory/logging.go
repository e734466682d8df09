package factory

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogSettings holds the logger configuration read from the environment.
type LogSettings struct {
	Level  logrus.Level
	Format string
}

// LogSettingsFromEnv reads CLA_LOG_LEVEL (debug, info, warn, error) and
// CLA_LOG_FORMAT (text, json). Unknown values fall back to info and text.
func LogSettingsFromEnv() LogSettings {
	settings := LogSettings{Level: logrus.InfoLevel, Format: "text"}

	if raw := strings.TrimSpace(os.Getenv("CLA_LOG_LEVEL")); raw != "" {
		level, err := logrus.ParseLevel(raw)
		if err != nil {
			warnInvalid("LogSettingsFromEnv", "CLA_LOG_LEVEL", raw, settings.Level.String(), err)
		} else {
			settings.Level = level
		}
	}

	if raw := strings.ToLower(strings.TrimSpace(os.Getenv("CLA_LOG_FORMAT"))); raw != "" {
		switch raw {
		case "text", "json":
			settings.Format = raw
		default:
			warnInvalid("LogSettingsFromEnv", "CLA_LOG_FORMAT", raw, settings.Format, nil)
		}
	}
	return settings
}

// ConfigureLogging applies the environment log settings to the standard
// logrus logger writing to out.
func ConfigureLogging(out io.Writer) LogSettings {
	settings := LogSettingsFromEnv()
	ApplyLogSettings(logrus.StandardLogger(), out, settings)
	return settings
}

// ApplyLogSettings configures logger with settings.
func ApplyLogSettings(logger *logrus.Logger, out io.Writer, settings LogSettings) {
	if out != nil {
		logger.SetOutput(out)
	}
	logger.SetLevel(settings.Level)
	if settings.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
