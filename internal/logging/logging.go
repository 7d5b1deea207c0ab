// Package logging builds the zerolog logger the hub server and the
// lifetime manager log through, driven by config.Config's level/format
// fields the way ws/config.go's LoadConfig/LogConfig do.
package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/adred-codev/hublifetime/internal/config"
)

// New builds a zerolog.Logger for the given level/format.
func New(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writer = os.Stdout
	if cfg.LogFormat == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: writer}).
			With().Timestamp().Str("hub", cfg.HubName).Logger()
	}
	return zerolog.New(writer).With().Timestamp().Str("hub", cfg.HubName).Logger()
}
