// cmd_show.go - Show und Archs Commands
// Hauptfunktionen: ShowHandler, showInfo, ArchsHandler, showArchs
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/deblurgan/deblur/checkpoint"
	"github.com/deblurgan/deblur/generator"
)

// ShowHandler - Zeigt Checkpoint-Informationen an
func ShowHandler(cmd *cobra.Command, args []string) error {
	tensors, err := cmd.Flags().GetBool("tensors")
	if err != nil {
		return err
	}

	ckpt, err := checkpoint.Load(args[0])
	if err != nil {
		return err
	}

	return showInfo(ckpt, tensors, cmd.OutOrStdout())
}

// tableRender - Gibt eine Ueberschrift und eine randlose Tabelle aus
func tableRender(w io.Writer, header string, rows [][]string) {
	fmt.Fprintln(w, " ", header)
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)

	table.AppendBulk(rows)
	table.Render()
	fmt.Fprintln(w)
}

// showInfo - Gibt Generator, Argumente und optional alle Tensoren aus
func showInfo(ckpt *checkpoint.Checkpoint, tensors bool, w io.Writer) error {
	cfg := ckpt.Config

	tableRender(w, "Generator", [][]string{
		{"", "architecture", cfg.Generator.Type},
		{"", "format", string(ckpt.Format)},
		{"", "n_gpu", fmt.Sprint(cfg.NGPU)},
		{"", "tensors", fmt.Sprint(ckpt.Weights.Len())},
		{"", "parameters", humanNumber(uint64(ckpt.NumParams()))},
	})

	if cfg.Generator.Args.Len() > 0 {
		var rows [][]string
		for pair := cfg.Generator.Args.Oldest(); pair != nil; pair = pair.Next() {
			rows = append(rows, []string{"", pair.Key, formatValue(pair.Value)})
		}
		tableRender(w, "Arguments", rows)
	}

	if tensors {
		var rows [][]string
		for pair := ckpt.Weights.Oldest(); pair != nil; pair = pair.Next() {
			rows = append(rows, []string{"", pair.Key, formatShape(pair.Value.Shape())})
		}
		tableRender(w, "Tensors", rows)
	}

	return nil
}

// ArchsHandler - Listet alle unterstuetzten Architekturen
func ArchsHandler(cmd *cobra.Command, _ []string) error {
	showArchs(cmd.OutOrStdout())
	return nil
}

// showArchs - Eine Tabelle pro Architektur mit Name, Typ und Default
func showArchs(w io.Writer) {
	for _, name := range generator.Names() {
		arch, _ := generator.Lookup(name)

		var rows [][]string
		for _, p := range arch.Params {
			def := p.DefaultString()
			if p.Required() {
				def = "required"
			}
			if len(p.Choices) > 0 {
				def += " (" + strings.Join(p.Choices, "|") + ")"
			}
			rows = append(rows, []string{"", p.Name, p.Kind.String(), def})
		}
		tableRender(w, name, rows)
	}
}
