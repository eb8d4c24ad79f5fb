package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-describe/internal/logging"
)

func main() {
	logging.Init()

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
