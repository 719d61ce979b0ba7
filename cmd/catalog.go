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
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/mholt/archiver"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xoviat/gdsx/lib"
)

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Maintain and search the cell catalog",
}

var catalogIndexCmd = &cobra.Command{
	Use:   "index <file>...",
	Short: "Index layout files into the catalog",
	Long: `Parse layout files and index their cells into the catalog.
Archives (zip, tar.gz, ...) are unpacked and every layout file inside
is indexed.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		catalog, err := openDefaultCatalog()
		if err != nil {
			fmt.Printf("failed to open or create catalog: %s\n", err)
			return
		}
		defer catalog.Close()

		unit := viper.GetFloat64("unit")
		tolerance := viper.GetFloat64("tolerance")

		for _, path := range args {
			files := []string{path}
			if !isLayoutFile(path) {
				tmp, err := os.MkdirTemp("", "gdsx")
				if err != nil {
					fmt.Printf("failed to create staging directory: %s\n", err)
					continue
				}
				defer os.RemoveAll(tmp)
				if err := archiver.Unarchive(path, tmp); err != nil {
					fmt.Printf("failed to unpack %s: %s\n", path, err)
					continue
				}
				files = []string{}
				filepath.Walk(tmp, func(p string, info os.FileInfo, err error) error {
					if err == nil && info.Mode().IsRegular() && isLayoutFile(p) {
						files = append(files, p)
					}
					return nil
				})
			}

			for _, file := range files {
				var library *lib.Library
				if strings.HasSuffix(file, ".oas") {
					library = lib.ReadOAS(file, unit, tolerance)
				} else {
					library = lib.ReadGDS(file, unit, tolerance)
				}
				if err := catalog.IndexLibrary(filepath.Base(file), library); err != nil {
					fmt.Printf("failed to index %s: %s\n", file, err)
					continue
				}
				fmt.Printf("indexed %d cells from %s\n", len(library.Cells), file)
			}
		}
	},
}

var catalogFindCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Search the catalog",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		catalog, err := openDefaultCatalog()
		if err != nil {
			fmt.Printf("failed to open or create catalog: %s\n", err)
			return
		}
		defer catalog.Close()

		bold := color.New(color.Bold)
		for _, entry := range catalog.Find(args[0]) {
			bold.Printf("%s (%s)\n", entry.Name, entry.File)
			fmt.Printf("  %d polygons, %d paths, %d references, %d labels, layers %v\n",
				entry.Polygons, entry.Paths, entry.References, entry.Labels, entry.Layers)
		}
	},
}

func isLayoutFile(path string) bool {
	return strings.HasSuffix(path, ".gds") || strings.HasSuffix(path, ".oas")
}

func openDefaultCatalog() (*lib.Catalog, error) {
	root := viper.GetString("catalog")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		root = filepath.Join(home, ".gdsx")
	}
	if !lib.Exists(root) {
		if err := os.MkdirAll(root, 0777); err != nil {
			return nil, err
		}
	}
	return lib.OpenCatalog(root)
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogIndexCmd)
	catalogCmd.AddCommand(catalogFindCmd)

	catalogCmd.PersistentFlags().String("catalog", "", "catalog directory (default is $HOME/.gdsx)")
	viper.BindPFlag("catalog", catalogCmd.PersistentFlags().Lookup("catalog"))
}
