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

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xoviat/gdsx/lib"
)

// browseCmd represents the browse command
var browseCmd = &cobra.Command{
	Use:   "browse <file>",
	Short: "Browse the cells of a layout file interactively",
	Long: `Load a layout file and inspect its cells one by one.  Cell names
autocomplete; an empty line exits.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := args[0]
		unit := viper.GetFloat64("unit")
		tolerance := viper.GetFloat64("tolerance")

		var library *lib.Library
		if strings.HasSuffix(path, ".oas") {
			library = lib.ReadOAS(path, unit, tolerance)
		} else {
			library = lib.ReadGDS(path, unit, tolerance)
		}
		if len(library.Cells) == 0 {
			fmt.Printf("no cells read from %s\n", path)
			return
		}

		cells := map[string]*lib.Cell{}
		for _, cell := range library.Cells {
			cells[cell.Name] = cell
		}

		for {
			name := prompt.Input("> ", func(d prompt.Document) []prompt.Suggest {
				suggestions := []prompt.Suggest{}
				for _, cell := range library.Cells {
					suggestions = append(suggestions, prompt.Suggest{Text: cell.Name})
				}

				return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
			})
			if name == "" {
				return
			}

			cell, ok := cells[name]
			if !ok {
				fmt.Printf("no cell named %s\n", name)
				continue
			}
			fmt.Printf("%s: %d polygons, %d flexpaths, %d robustpaths, %d references, %d labels\n",
				cell.Name, len(cell.Polygons), len(cell.FlexPaths), len(cell.RobustPaths),
				len(cell.References), len(cell.Labels))
			for _, reference := range cell.References {
				fmt.Printf("  ref %s at (%g, %g)\n",
					reference.TargetName(), reference.Origin.X, reference.Origin.Y)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(browseCmd)
}
