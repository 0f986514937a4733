package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ct2egsphant/pkg/config"
	"ct2egsphant/pkg/logging"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ct2egsphant",
	Short: "Converts CT series into EGSnrc voxel phantoms",
	Long: `ct2egsphant classifies every pixel of a CT series into a material and a
mass density and writes the resulting voxel grid as an egsphant file for
DOSXYZnrc.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ct2egsphant.yaml", "configuration file (YAML, or TOML with a .toml suffix)")
}

// loadConfig reads the configuration and applies its logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Logging.Setup(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	defer logging.Shutdown()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logging.Shutdown()
		os.Exit(1)
	}
}
