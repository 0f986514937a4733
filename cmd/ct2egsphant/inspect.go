package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ct2egsphant/pkg/egsphant"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "prints the header and material counts of an egsphant file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := egsphant.ReadFile(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s: %d x %d x %d = %s voxels\n", args[0],
			p.Size[0], p.Size[1], p.Size[2], humanize.Comma(int64(p.NumVoxels())))
		names := []string{"x", "y", "z"}
		for axis, edges := range p.Edges {
			n := len(edges) - 1
			fmt.Printf("  %s: %.4f .. %.4f cm (%.4f cm voxels)\n", names[axis],
				edges[0], edges[n], (edges[n]-edges[0])/float64(n))
		}

		counts := make([]int, len(p.Materials)+1)
		for _, plane := range p.Material {
			for _, row := range plane {
				for _, m := range row {
					if m < len(counts) {
						counts[m]++
					}
				}
			}
		}
		if counts[0] > 0 {
			fmt.Printf("  %d %-20s %12s\n", 0, "unclassified", humanize.Comma(int64(counts[0])))
		}
		for i, name := range p.Materials {
			fmt.Printf("  %d %-20s %12s\n", i+1, name, humanize.Comma(int64(counts[i+1])))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
