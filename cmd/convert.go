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
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xoviat/gdsx/lib"
)

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert <src> <dst>",
	Short: "Convert between GDSII and OASIS",
	Long: `Convert a layout file between the GDSII and OASIS stream formats.
The direction follows the file extensions (.gds, .oas).`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		src, dst := args[0], args[1]
		unit := viper.GetFloat64("unit")
		tolerance := viper.GetFloat64("tolerance")

		var library *lib.Library
		switch {
		case strings.HasSuffix(src, ".gds"):
			library = lib.ReadGDS(src, unit, tolerance)
		case strings.HasSuffix(src, ".oas"):
			library = lib.ReadOAS(src, unit, tolerance)
		default:
			fmt.Printf("unrecognized input format: %s\n", src)
			return
		}
		if len(library.Cells) == 0 {
			fmt.Printf("no cells read from %s\n", src)
			return
		}

		switch {
		case strings.HasSuffix(dst, ".gds"):
			maxPoints, _ := cmd.Flags().GetUint64("max-points")
			if err := library.WriteGDS(dst, maxPoints, time.Time{}); err != nil {
				fmt.Printf("failed to write %s: %s\n", dst, err)
			}
		case strings.HasSuffix(dst, ".oas"):
			level, _ := cmd.Flags().GetInt("deflate-level")
			var flags uint16
			if cblock, _ := cmd.Flags().GetBool("cblock"); cblock {
				flags |= lib.OasisConfigUseCBlock
			}
			if err := library.WriteOAS(dst, tolerance, level, flags); err != nil {
				fmt.Printf("failed to write %s: %s\n", dst, err)
			}
		default:
			fmt.Printf("unrecognized output format: %s\n", dst)
		}
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().Uint64("max-points", 199, "maximum polygon vertices per GDSII record")
	convertCmd.Flags().Int("deflate-level", 6, "CBLOCK compression level, 0-9")
	convertCmd.Flags().Bool("cblock", false, "compress each OASIS cell as a CBLOCK")
}
