package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/dafmap/internal/api"
	"github.com/jackzampolin/dafmap/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "dafmap",
	Short: "Talmud page annotation pipeline mapping canonical text onto scans",
	Long: `Dafmap maps canonical Talmud text onto scanned manuscript pages,
producing bounding-box annotations that tie each Sefaria text segment
to the OCR line regions that carry it.

The pipeline includes:
  - Page rendering from PDF scans with Tesseract layout extraction
  - Vision-model script classification (square vs. Rashi typefaces)
  - Canonical text retrieval from the Sefaria API
  - Lexical and embedding-based segment alignment
  - Word-level boundary cut refinement
  - A review pause for pages that fail validation`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.dafmap/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "dafmap home directory (default: ~/.dafmap)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
