package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// @title Readerline Billing API
// @version 1.0
// @description Session billing and settlement engine for paid reader sessions and livestream gifts
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

var configPath string

var rootCmd = &cobra.Command{
	Use:   "readerline",
	Short: "Session billing and settlement engine",
	Long: `readerline meters paid chat, voice and video sessions minute by minute,
settles them between reader and platform, and credits livestream gifts.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".env", "Path to a .env, yaml or toml config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
