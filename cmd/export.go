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
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xoviat/gdsx/lib"
	"github.com/xuri/excelize/v2"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export <layout> <xlsx>",
	Short: "Export a cell census to a spreadsheet",
	Long:  `Export a per-cell census of a layout file in the xlsx format.`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		src, dst := args[0], args[1]
		if !strings.HasSuffix(dst, "xlsx") && !strings.HasSuffix(dst, "xls") {
			fmt.Printf("export file name must be excel file\n")
			return
		}

		unit := viper.GetFloat64("unit")
		tolerance := viper.GetFloat64("tolerance")
		var library *lib.Library
		if strings.HasSuffix(src, ".oas") {
			library = lib.ReadOAS(src, unit, tolerance)
		} else {
			library = lib.ReadGDS(src, unit, tolerance)
		}

		f := excelize.NewFile()
		f.NewSheet("cells")
		f.DeleteSheet("Sheet1")

		f.SetSheetRow("cells", "A1", &[]interface{}{
			"Cell", "Polygons", "FlexPaths", "RobustPaths", "References", "Labels",
		})
		for i, summary := range lib.Summarize(library) {
			f.SetSheetRow("cells", "A"+strconv.Itoa(i+2), &[]interface{}{
				summary.Name, summary.Polygons, summary.FlexPaths,
				summary.RobustPaths, summary.References, summary.Labels,
			})
		}

		if err := f.SaveAs(dst); err != nil {
			fmt.Printf("failed to save %s: %s\n", dst, err)
		}
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
