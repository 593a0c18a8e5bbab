package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/dafmap/internal/api"
	"github.com/jackzampolin/dafmap/internal/config"
	"github.com/jackzampolin/dafmap/internal/home"
	"github.com/jackzampolin/dafmap/internal/ocr/tesseract"
	"github.com/jackzampolin/dafmap/internal/pdf"
	"github.com/jackzampolin/dafmap/internal/pipeline"
	"github.com/jackzampolin/dafmap/internal/providers"
	"github.com/jackzampolin/dafmap/internal/sefaria"
	"github.com/jackzampolin/dafmap/internal/session"
	"github.com/jackzampolin/dafmap/internal/store"
)

var (
	annotateRef      string
	annotatePDF      string
	annotatePage     int
	annotateStrategy string
)

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Annotate one page locally without the server",
	Long: `Annotate a single Talmud page in the foreground.

The run uses the same pipeline as the server and persists its session
and page document under the dafmap home directory, so a later
'dafmap serve' sees the result. A page that fails validation pauses in
needs_review; apply fixes through the server API.

Examples:
  dafmap annotate --ref "Shabbat 2a" --pdf shas.pdf --page 2
  dafmap annotate --ref "Berakhot 3b" --pdf https://example.org/berakhot.pdf --page 5 --strategy embedding`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		path := cfgFile
		if path == "" && h.ConfigExists() {
			path = h.ConfigPath()
		}
		mgr, err := config.NewManager(path)
		if err != nil {
			return err
		}
		cfg := mgr.Get()
		logger := buildLogger(cfg)

		st, err := store.NewFS(h.StorePath())
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		sink := store.NewSink(store.SinkConfig{Store: st, Logger: logger})
		sink.Start(ctx)
		defer sink.Stop()

		sessions := session.NewManager(st, sink, logger)

		registry := providers.NewRegistryFromConfig(cfg.ToRegistryConfig())
		registry.SetLogger(logger)

		fetcher, err := pdf.New(pdf.Config{CacheDir: h.CachePath()})
		if err != nil {
			return fmt.Errorf("failed to create pdf fetcher: %w", err)
		}

		deps := pipeline.Deps{
			PDF:         fetcher,
			Engine:      tesseract.New(cfg.TesseractConfig()),
			RashiEngine: tesseract.New(cfg.RashiTesseractConfig()),
			Classifier:  registry,
			Embedder:    registry,
			Sefaria:     sefaria.New(cfg.ToSefariaConfig()),
			Sessions:    sessions,
			Logger:      logger,
		}
		if cfg.UseVLMRecognizer() {
			deps.Recognizer = registry
		}

		runner, err := pipeline.New(deps, cfg.ToPipelineConfig())
		if err != nil {
			return err
		}

		strategy := annotateStrategy
		if strategy == "" {
			strategy = cfg.DefaultStrategy()
		}
		if !pipeline.ValidStrategy(strategy) {
			return fmt.Errorf("unknown strategy %q", strategy)
		}

		rec, err := sessions.Create(ctx, annotateRef, annotatePDF, annotatePage, strategy)
		if err != nil {
			return err
		}

		if err := runner.Run(ctx, rec); err != nil {
			return fmt.Errorf("annotation run failed: %w", err)
		}

		switch rec.Status {
		case session.StatusNeedsReview:
			fmt.Printf("Session %s paused for review\n", rec.ID)
			fmt.Printf("  dafmap api sessions get %s\n", rec.ID)
			fmt.Printf("  dafmap api sessions fixes %s --assign <block>=<stream>\n", rec.ID)
		case session.StatusFinalized:
			fmt.Printf("Page %s persisted as %s\n", rec.Ref, rec.PageDocID)
		}

		return api.Output(rec.Summarize())
	},
}

func init() {
	annotateCmd.Flags().StringVar(&annotateRef, "ref", "", "Canonical page reference, e.g. \"Shabbat 2a\"")
	annotateCmd.Flags().StringVar(&annotatePDF, "pdf", "", "PDF path or URL containing the scan")
	annotateCmd.Flags().IntVar(&annotatePage, "page", 0, "Zero-based page index in the PDF")
	annotateCmd.Flags().StringVar(&annotateStrategy, "strategy", "", "Alignment strategy: lexical or embedding")
	annotateCmd.MarkFlagRequired("ref")
	annotateCmd.MarkFlagRequired("pdf")

	rootCmd.AddCommand(annotateCmd)
}
