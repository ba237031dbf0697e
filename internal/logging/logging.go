// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures zerolog for the process. An unknown level falls back to
// info, and development always logs at debug.
func Setup(level, environment string) zerolog.Logger {
	return SetupWithWriter(level, environment, os.Stdout)
}

// SetupWithWriter is Setup with an explicit output.
func SetupWithWriter(level, environment string, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if environment == "development" {
		lvl = zerolog.DebugLevel
	}

	var w io.Writer = out
	if environment != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime, NoColor: environment != "development"}
	}

	logger := zerolog.New(w).With().Timestamp().Logger().Level(lvl)
	log.Logger = logger
	return logger
}

// RotatingFile returns a size-rotated log file writer for path.
func RotatingFile(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
}
