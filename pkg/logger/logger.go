package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init replaces the global logger with a console writer suitable for CLI use.
func Init() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

func SetLogLevelFromString(logLevel string) {
	allLogLevels := map[string]zerolog.Level{
		"error":   zerolog.ErrorLevel,
		"warning": zerolog.WarnLevel,
		"info":    zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
	}
	level := zerolog.InfoLevel
	var ok bool
	if level, ok = allLogLevels[logLevel]; !ok {
		log.Warn().Msgf("unexpected log_level=%v, will apply `info`", logLevel)
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
