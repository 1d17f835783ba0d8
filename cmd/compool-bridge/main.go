package main

import (
	"os"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thatsimonsguy/compool-bridge/internal/app"
	"github.com/thatsimonsguy/compool-bridge/internal/config"
	"github.com/thatsimonsguy/compool-bridge/internal/logging"
)

var (
	configFilename string
	debug          bool

	rootCmd = &cobra.Command{
		Use:          "compool-bridge",
		Short:        "Bridges a Compool pool/spa controller to MQTT and HTTP accessories",
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	rootCmd.Flags().StringVarP(&configFilename, "config", "c", "", "Configuration file")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Log debug messages")
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFilename)
	if err != nil {
		return err
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	logFile, err := logging.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File)
	if err != nil {
		return err
	}
	defer logFile.Close()

	log.Info().
		Str("name", cfg.Name).
		Str("device", cfg.Device.Path).
		Str("broker", cfg.MQTT.Broker).
		Msg("Starting Compool bridge")

	bridge, err := app.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create bridge")
		return err
	}
	defer bridge.Close()

	if err := bridge.Run(app.SignalContext()); err != nil {
		log.Error().Err(err).Msg("Bridge stopped with error")
		return err
	}
	log.Info().Msg("Compool bridge stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
