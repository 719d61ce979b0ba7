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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xoviat/gdsx/lib"
)

// topCmd represents the top command
var topCmd = &cobra.Command{
	Use:   "top <file>",
	Short: "List the top-level cells of a layout file",
	Args:  cobra.ExactArgs(1),
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

		cells, rawcells := library.TopLevel()
		for _, cell := range cells {
			fmt.Println(cell.Name)
		}
		for _, rawcell := range rawcells {
			fmt.Println(rawcell.Name)
		}
	},
}

func init() {
	rootCmd.AddCommand(topCmd)
}
