// Package main implements the firmware_agent CLI for harvesting firmware
// payloads from vendor archives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "firmware_agent",
	Short: "Batch firmware downloader and analyser",
	Long: `firmware_agent downloads the archives listed in a manifest, extracts them,
keeps the firmware payloads, and renames them after the manifest labels.
Payloads can then be analysed with binwalk and reviewed by an LLM.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
