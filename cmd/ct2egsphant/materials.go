package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ct2egsphant/pkg/classifier"
	"ct2egsphant/pkg/materials"
)

// materialsCmd represents the materials command
var materialsCmd = &cobra.Command{
	Use:   "materials [NAME...]",
	Short: "prints the material table and the HU ramp",
	Long: `Prints the material table and the HU ramp. Given material names, prints
only their definitions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		table := materials.Default()
		if len(args) > 0 {
			return printMaterials(cmd.OutOrStdout(), table, args)
		}
		fmt.Println("Material table:")
		for _, m := range table.Materials() {
			if !m.Classified {
				fmt.Printf("  %d %-20s (not assigned by the ramp)\n", m.Index, m.Name)
				continue
			}
			fmt.Printf("  %d %-20s HU [%4d, %4d)  density [%.3f, %.3f)\n",
				m.Index, m.Name, m.HULo, m.HUHi, m.DensityLo, m.DensityHi)
		}

		ramp, err := classifier.Default(table)
		if err != nil {
			return err
		}
		fmt.Println("\nHU ramp:")
		for _, b := range ramp.Brackets() {
			fmt.Printf("  %-20s HU [%4d, %4d) -> %.4f .. %.4f g/cm^3\n",
				b.Material, b.HULo, b.HUHi, b.DensityLo, b.DensityHi)
		}
		return nil
	},
}

// printMaterials prints the definitions of the named materials.
func printMaterials(w io.Writer, table *materials.Table, names []string) error {
	for _, name := range names {
		m, err := table.Material(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d %s\n", m.Index, m.Name)
		if m.Classified {
			fmt.Fprintf(w, "  HU       [%d, %d)\n  density  [%.3f, %.3f) g/cm^3\n", m.HULo, m.HUHi, m.DensityLo, m.DensityHi)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(materialsCmd)
}
