package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of xen2raw",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("xen2raw %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
