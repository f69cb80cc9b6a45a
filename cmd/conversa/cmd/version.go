package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msto63/conversa/pkg/core/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Mostra a versão",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, version.Info())
		fmt.Fprintf(out, "  Telemetria: %s\n", version.ComponentVersion("telemetry"))
		fmt.Fprintf(out, "  Daemon TTS: %s\n", version.ComponentVersion("tts-daemon"))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
