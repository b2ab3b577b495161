package cmd

import (
	"fmt"
	"log"
	"os"

	"VoxFM/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "voxfm_server",
	Short: "VoxFM is a personal music library with transcription.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting VoxFM server...")
		// server.Start now handles its own port and logging for startup.
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
