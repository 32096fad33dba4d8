package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/xen2raw/internal/convert"
	"github.com/pdiddy/xen2raw/pkg/types"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <input-dump.elf>",
	Short: "Print the header and frame-table summary of a dump",
	Long: `Inspect reads the Xen notes and the frame table of a dump-core file and
prints the header, guest kind, and frame statistics, including the size
the raw image will have. No page data is read and nothing is written.`,
	Args: exactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().Bool("json", false, "output as JSON instead of YAML")

	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ins, err := convert.InspectFile(args[0], logger)
	if err != nil {
		return err
	}
	return convert.Encode(os.Stdout, ins, outputFormat(cmd))
}

func outputFormat(cmd *cobra.Command) types.ReportFormat {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return types.ReportJSON
	}
	return types.ReportYAML
}
