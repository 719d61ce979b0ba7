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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gdsx",
	Short: "Read, write and catalog GDSII and OASIS layout files",
	Long: `gdsx is a toolkit for integrated-circuit mask data.  It reads and
writes the GDSII and OASIS stream formats into a hierarchical cell
database and keeps a searchable catalog of the cells it has seen.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gdsx.yaml)")
	rootCmd.PersistentFlags().Float64("unit", 0, "user unit in meters (0 keeps the unit stored in the file)")
	rootCmd.PersistentFlags().Float64("tolerance", 1e-2, "curve discretization tolerance in user units")
	viper.BindPFlag("unit", rootCmd.PersistentFlags().Lookup("unit"))
	viper.BindPFlag("tolerance", rootCmd.PersistentFlags().Lookup("tolerance"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".gdsx" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".gdsx")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
