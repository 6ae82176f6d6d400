// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: registerRunFlags, newShowCmd, newArchsCmd
package cmd

import (
	"github.com/spf13/cobra"
)

// registerRunFlags - Flags fuer den Deblur-Lauf am Root Command
func registerRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("blurred", "b", "", "Directory with blurred input images")
	cmd.Flags().StringP("deblurred", "d", "", "Directory for the deblurred images")
	cmd.Flags().StringP("resume", "r", "", "Checkpoint to load (torch or safetensors)")
	cmd.Flags().String("device", "", "Accelerator indices to use (e.g. 0,1)")
	cmd.Flags().Int("threads", 0, "Threads per forward pass (default: DEBLUR_NUM_THREADS or all CPUs)")
	cmd.Flags().Bool("no-progress", false, "Do not show the progress bar")

	for _, name := range []string{"blurred", "deblurred", "resume"} {
		cmd.MarkFlagRequired(name) //nolint:errcheck
	}
}

// newShowCmd - Erstellt den show Command
func newShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show CHECKPOINT",
		Short: "Show information for a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  ShowHandler,
	}

	showCmd.Flags().Bool("tensors", false, "List every generator tensor with its shape")

	return showCmd
}

// newArchsCmd - Erstellt den archs Command
func newArchsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archs",
		Short: "List supported generator architectures",
		Args:  cobra.NoArgs,
		RunE:  ArchsHandler,
	}
}
