package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/zette-dev/heyjamie/internal/config"
	"github.com/zette-dev/heyjamie/internal/log"
)

var (
	configPath string // actual config file used
	cfg        *config.Config
	closeLog   = func() {}

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+config.DefaultPath())
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse the config, setup logging
	rootCmd.PersistentPreRunE = initHost

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(setupWhisperCmd)
	rootCmd.AddCommand(mcpTestCmd)
	rootCmd.AddCommand(versionCmd)

	err := rootCmd.Execute()
	if err != nil {
		slog.Error("heyjamie failed", "err", err)
	}
	closeLog()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "heyjamie",
	Short:        "Voice assistant host supervising transcription, agent and canvas helpers",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version of heyjamie",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("heyjamie: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("heyjamie: %s\n", info.Main.Version)
		fmt.Printf("go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:   %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:     %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:    %s\n", s.Value)
			}
		}
	},
}

func initHost(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("HEYJAMIE_CONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		configPath = config.DefaultPath()
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		cfg.Log.Verbose = true
	}

	logger, cleanup, err := log.Open(cfg.Log.Path, cfg.Log.Verbose)
	if err != nil {
		return err
	}
	closeLog = cleanup
	slog.SetDefault(logger)

	slog.Debug("heyjamie run", "cmd", cmd.Name(), "configPath", configPath)
	return nil
}
