// cmd_run.go - Run Handler fuer den Deblur-Lauf
// Hauptfunktionen: RunHandler, deviceSelector
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/deblurgan/deblur/deblur"
	"github.com/deblurgan/deblur/device"
	"github.com/deblurgan/deblur/envconfig"
	"github.com/deblurgan/deblur/progress"
)

// RunHandler - Haupthandler: entschaerft alle Bilder aus --blurred
func RunHandler(cmd *cobra.Command, _ []string) error {
	blurred, err := cmd.Flags().GetString("blurred")
	if err != nil {
		return err
	}
	deblurred, err := cmd.Flags().GetString("deblurred")
	if err != nil {
		return err
	}
	resume, err := cmd.Flags().GetString("resume")
	if err != nil {
		return err
	}

	threads, err := cmd.Flags().GetInt("threads")
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("threads") {
		threads = envconfig.NumThreads()
	}

	noProgress, err := cmd.Flags().GetBool("no-progress")
	if err != nil {
		return err
	}

	opts := deblur.Options{
		BlurredDir:   blurred,
		DeblurredDir: deblurred,
		Checkpoint:   resume,
		Device: device.Config{
			Visible: deviceSelector(cmd),
			Threads: threads,
		},
		Progress: !noProgress && !envconfig.NoProgress() && progress.IsTerminal(os.Stderr),
	}

	summary, err := deblur.Run(opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "deblurred %d image(s) in %s\n", summary.Images, summary.Duration.Round(time.Millisecond))
	return nil
}

// deviceSelector - --device vor DEBLUR_DEVICE vor CUDA_VISIBLE_DEVICES
func deviceSelector(cmd *cobra.Command) string {
	if cmd.Flags().Changed("device") {
		s, _ := cmd.Flags().GetString("device")
		return s
	}
	if s := envconfig.Device(); s != "" {
		return s
	}
	return envconfig.CudaVisibleDevices()
}
