package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "modkeeper",
	Short: "Keeps Minecraft mods current with Modrinth",
	Long: `modkeeper resolves, downloads and verifies Modrinth mods, shaders and
resource packs for one Minecraft installation, and watches for compatible
versions of mods that are not yet available for the configured game version.`,
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "c", ".", "directory containing the .env file")
}
