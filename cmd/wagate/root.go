package main

import (
	"github.com/spf13/cobra"
	"github.com/talkincode/wagate/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "wagate",
	Short:        "WhatsApp multi-number connection gateway",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default wagate.yml or /etc/wagate.yml)")
	rootCmd.AddCommand(serveCmd, pairCmd, tokenCmd)
}

func loadConfig() (*config.AppConfig, error) {
	return config.LoadConfig(cfgFile)
}
