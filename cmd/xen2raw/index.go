package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pdiddy/xen2raw/internal/convert"
	"github.com/pdiddy/xen2raw/internal/frameindex"
)

var indexCmd = &cobra.Command{
	Use:   "index <input-dump.elf> <index.db>",
	Short: "Record the frame table of a dump in a SQLite index",
	Long: `Index writes the dump header and one row per frame-table slot (frame
number and offset in the raw image) into a SQLite database. An existing
index at the same path is replaced. Use "lookup" to query it.`,
	Args: exactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		ins, err := convert.InspectFile(args[0], logger)
		if err != nil {
			return err
		}
		if err := writeIndex(cmd.Context(), args[1], args[0], ins); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "indexed: %s -> %s (%d mapped, %d invalid)\n",
			args[0], args[1], ins.Frames.Mapped, ins.Frames.Invalid)
		return nil
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <index.db> <pfn>",
	Short: "Report whether a guest frame is present in an indexed dump",
	Long: `Lookup queries a frame index built by "index" (or "--index") for a frame
number, given in decimal or 0x-prefixed hex. It prints the slot and the
offset of the frame in the raw image, and fails if the dump has no page
for that frame.`,
	Args: exactArgs(2),
	RunE: runLookup,
}

func init() {
	lookupCmd.Flags().Bool("json", false, "output as JSON instead of YAML")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(lookupCmd)
}

func runLookup(cmd *cobra.Command, args []string) error {
	pfn, err := parsePFN(args[1])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	x, err := frameindex.Open(args[0])
	if err != nil {
		return err
	}
	defer x.Close()

	entry, ok, err := x.Lookup(cmd.Context(), pfn)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("frame %#x is not present in the dump", pfn)
	}
	return convert.Encode(os.Stdout, entry, outputFormat(cmd))
}

// parsePFN accepts decimal, 0x-hex, 0o-octal or 0b-binary frame numbers.
func parsePFN(s string) (uint64, error) {
	pfn, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame number %q: %w", s, err)
	}
	return pfn, nil
}

// writeIndex builds the frame index at path from an inspected dump.
func writeIndex(ctx context.Context, path, source string, ins convert.Inspection) error {
	x, err := frameindex.Create(path)
	if err != nil {
		return fmt.Errorf("creating frame index %s: %w", path, err)
	}
	defer x.Close()

	if err := x.Build(ctx, source, ins.Header, ins.Table); err != nil {
		return fmt.Errorf("building frame index %s: %w", path, err)
	}
	logger.WithField("path", path).Debug("frame index written")
	return nil
}
