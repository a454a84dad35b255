package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/joho/godotenv/autoload" // Automatically load .env file
)

var configPath string

// rootCmd runs the server when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Calendar notes service with real-time reminders",
	Long: `Stores calendar notes and pushes a notification to every subscriber of a
note when its reminder time arrives.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (yaml, json or toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "calendar: %v\n", err)
		os.Exit(1)
	}
}
