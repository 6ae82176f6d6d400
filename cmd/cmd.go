// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/deblurgan/deblur/envconfig"
	"github.com/deblurgan/deblur/logutil"
	"github.com/deblurgan/deblur/version"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "deblur",
		Short:         "Deblur images with a pre-trained GAN generator",
		Version:       version.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
		},
		RunE: RunHandler,
	}

	rootCmd.SetVersionTemplate("deblur version {{.Version}}\n")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	registerRunFlags(rootCmd)

	showCmd := newShowCmd()
	archsCmd := newArchsCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	appendEnvDocs(rootCmd, []envconfig.EnvVar{
		envVars["DEBLUR_DEBUG"],
		envVars["DEBLUR_DEVICE"],
		envVars["DEBLUR_NUM_THREADS"],
		envVars["DEBLUR_NOPROGRESS"],
	})
	appendEnvDocs(showCmd, []envconfig.EnvVar{envVars["DEBLUR_DEBUG"]})

	rootCmd.AddCommand(
		showCmd,
		archsCmd,
	)

	return rootCmd
}
