/*
Copyright © 2020 Mars Galactic <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xoviat/gdsx/lib"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <file>...",
	Short: "Show header and cell information of layout files",
	Long: `Probe the units of GDSII files and the precision of OASIS files,
and list the cells each file contains.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		unit := viper.GetFloat64("unit")
		tolerance := viper.GetFloat64("tolerance")
		bold := color.New(color.Bold)

		for _, path := range args {
			bold.Println(path)
			switch {
			case strings.HasSuffix(path, ".gds"):
				u, p, err := lib.GDSUnits(path)
				if err != nil {
					continue
				}
				fmt.Printf("  unit %g m, precision %g m\n", u, p)
				printCells(lib.ReadGDS(path, unit, tolerance))
			case strings.HasSuffix(path, ".oas"):
				p, err := lib.OASPrecision(path)
				if err != nil {
					continue
				}
				fmt.Printf("  precision %g m\n", p)
				printCells(lib.ReadOAS(path, unit, tolerance))
			default:
				fmt.Println("  unrecognized format")
			}
		}
	},
}

func printCells(library *lib.Library) {
	for _, summary := range lib.Summarize(library) {
		fmt.Printf("  %s: %d polygons, %d paths, %d references, %d labels\n",
			summary.Name, summary.Polygons, summary.FlexPaths+summary.RobustPaths,
			summary.References, summary.Labels)
	}
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
