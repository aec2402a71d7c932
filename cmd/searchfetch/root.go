package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-fetch/internal/config"
	"github.com/JakeFAU/search-fetch/internal/server"
	"github.com/JakeFAU/search-fetch/internal/worker"
)

// builder constructs the application; tests swap it to inject a logger.
type builder func(ctx context.Context, cfg config.Config, opts server.Options) (*server.App, error)

func defaultBuilder(ctx context.Context, cfg config.Config, opts server.Options) (*server.App, error) {
	return server.Build(ctx, cfg, opts)
}

type rootOptions struct {
	cfgFile  string
	pages    uint
	maxChars uint
	outDir   string
}

func newRootCmd(build builder) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "searchfetch <query>",
		Short: "Search the web and save the readable content of the top results.",
		Long: `searchfetch runs a web search, fetches every result page concurrently,
extracts the readable content and writes page_{i}.md, page_{i}.html and
search_summary.txt to the output directory.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, build, opts, args[0])
		},
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default searches ./searchfetch.yaml)")
	cmd.Flags().UintVarP(&opts.pages, "pages", "p", 5, "Number of result pages to fetch")
	cmd.Flags().UintVarP(&opts.maxChars, "max-chars", "m", 5000, "Maximum characters per page")
	cmd.Flags().StringVar(&opts.outDir, "out", "", "Output directory (default output.dir)")

	cmd.AddCommand(newServeCmd(build, opts))
	return cmd
}

func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Lookup("pages") != nil && flags.Changed("pages") {
		cfg.Pipeline.DefaultPages = opts.pages
	}
	if flags.Lookup("max-chars") != nil && flags.Changed("max-chars") {
		cfg.Pipeline.DefaultMaxChars = opts.maxChars
	}
	if opts.outDir != "" {
		cfg.Output.Dir = opts.outDir
	}
	return cfg, nil
}

func runSearch(cmd *cobra.Command, build builder, opts *rootOptions, query string) error {
	if strings.TrimSpace(query) == "" {
		return errors.New("query is required")
	}
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	pages, maxChars := cfg.Pipeline.DefaultPages, cfg.Pipeline.DefaultMaxChars

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Searching for: '%s' with %d pages, max %d chars per page\n", query, pages, maxChars)

	ctx := cmd.Context()
	app, err := build(ctx, cfg, server.Options{Progress: out})
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			app.Logger().Warn("close application failed", zap.Error(cerr))
		}
	}()

	res, err := app.Worker().Execute(ctx, worker.Request{Query: query, Pages: pages, MaxChars: maxChars})
	if err != nil {
		return err
	}
	for _, page := range res.Artifacts.Pages {
		fmt.Fprintf(out, "Saved content to %s and %s\n", displayPath(page.ContentURI), displayPath(page.HTMLURI))
	}
	fmt.Fprintf(out, "Generated search summary at %s\n", displayPath(res.Artifacts.SummaryURI))
	fmt.Fprintf(out, "Successfully processed %d pages\n", len(res.Collection.Pages))
	return nil
}

func displayPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}
