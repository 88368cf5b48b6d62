package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kavos113/quickctf/ctf-instancer/config"
)

const serviceName = "ctf-instancer"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ctf-instancer",
	Short: "Per-user challenge instances on demand",
	Long: `ctf-instancer starts, stops and reports isolated challenge environments
for individual users over a small authenticated HTTP API.`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the TOML config (default $INSTANCER_CONFIG or config.toml)")
	rootCmd.AddCommand(serveCmd, validateCmd, historyCmd, versionCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

// loadEnv reads the environment and applies the --config override.
func loadEnv() *config.Env {
	env := config.LoadEnv()
	if configPath != "" {
		env.ConfigPath = configPath
	}
	return env
}
