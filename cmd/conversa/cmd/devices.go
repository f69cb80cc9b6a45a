package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/msto63/conversa/internal/voice/audio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Lista os dispositivos de áudio",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := audio.ListDevices()
		if err != nil {
			printError("dispositivos de áudio", err)
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NOME\tAPI\tENTRADA\tSAÍDA\tTAXA")
		for _, d := range devices {
			marker := " "
			if d.IsDefaultInput || d.IsDefaultOutput {
				marker = "*"
			}
			fmt.Fprintf(w, "%s %s\t%s\t%d\t%d\t%.0f\n",
				marker, d.Name, d.HostAPI, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
