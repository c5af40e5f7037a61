package main

import (
	"os"

	"github.com/spf13/cobra"

	"polo/internal/logger"
)

// --- Global Command Variables ---
var (
	verbose      bool
	headerOnly   bool
	outPath      string
	runName      string
	spectrumName string
	sampleName   string
	menuPath     string
	numWells     int
	inline       bool

	rootCmd = &cobra.Command{
		Use:           "xtal",
		Short:         "Work with xtal crystallization run files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// --- Files ---
	inspectCmd = &cobra.Command{
		Use:   "inspect [file]",
		Short: "Print the header and a summary of an xtal file as YAML",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	linkCmd = &cobra.Command{
		Use:   "link [file...]",
		Short: "Load several xtal files and print their date chains and spectrum rings",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLink,
	}
	importCmd = &cobra.Command{
		Use:   "import [image directory]",
		Short: "Import an HWI plate or plain image directory into an xtal file",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	exportCmd = &cobra.Command{
		Use:   "export-images [file] [directory]",
		Short: "Write the embedded images of an xtal file to a directory",
		Args:  cobra.ExactArgs(2),
		RunE:  runExport,
	}

	// --- Catalog ---
	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Maintain the sqlite catalog of saved runs",
	}
	catalogSyncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Rebuild catalog rows from every run in the configured store",
		Args:  cobra.NoArgs,
		RunE:  runCatalogSync,
	}
	catalogStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print catalog totals as YAML",
		Args:  cobra.NoArgs,
		RunE:  runCatalogStats,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")

	inspectCmd.Flags().BoolVar(&headerOnly, "header", false, "Print the header block only")

	importCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default <name>.xtal)")
	importCmd.Flags().StringVar(&runName, "name", "", "Run name (default derived from the directory)")
	importCmd.Flags().StringVar(&spectrumName, "spectrum", "", "Imaging spectrum (visible, uv, shg)")
	importCmd.Flags().StringVar(&sampleName, "sample", "", "Sample name")
	importCmd.Flags().StringVar(&menuPath, "menu", "", "Cocktail menu CSV")
	importCmd.Flags().IntVar(&numWells, "wells", 0, "Plate size; 0 infers it from the images")
	importCmd.Flags().BoolVar(&inline, "inline", true, "Embed image bytes in the file")

	catalogCmd.AddCommand(catalogSyncCmd, catalogStatsCmd)
	rootCmd.AddCommand(inspectCmd, linkCmd, importCmd, exportCmd, catalogCmd)
}

func commandLogger() *logger.Logger {
	if verbose {
		return logger.NewWriter(os.Stderr)
	}
	return logger.NewDiscard()
}
