package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fpang/storybook-faceswap/internal/bootstrap"
	"github.com/fpang/storybook-faceswap/internal/config"
	"github.com/fpang/storybook-faceswap/internal/faceswap"
	"github.com/fpang/storybook-faceswap/internal/logging"
	"github.com/fpang/storybook-faceswap/internal/progress"
)

var outFlag string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline in-process",
	Long: `Run generates portraits and pages in this process, using the providers
and storage configured in the environment. Ctrl-C stops the run after the
current batch.

Examples:
  storybook-cli run --name Mia --gender girl --photo ./mia.jpg
  storybook-cli run --name Leo --pick --pages 1,4,10 --out leo.json`,
	RunE: runRun,
}

func init() {
	addRequestFlags(runCmd)
	runCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Write the page results as JSON to this file")
}

func runRun(cmd *cobra.Command, args []string) error {
	logging.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	app, err := bootstrap.Build(ctx, "storybook-cli", cfg)
	if err != nil {
		return err
	}
	req, err := buildRequest(ctx)
	if err != nil {
		return err
	}

	red := progress.NewReducer()
	out := cmd.OutOrStdout()
	sink := faceswap.EventSinkFunc(func(e faceswap.Event) {
		red.Apply(e)
		printEvent(out, e, red.State())
	})

	res, runErr := app.Service.Personalize(ctx, req, sink)
	printResults(out, red.State())

	if outFlag != "" && res != nil {
		if err := writeResults(outFlag, res.Results); err != nil {
			return err
		}
		fmt.Fprintf(out, "Results written to %s\n", outFlag)
	}
	return runErr
}

func writeResults(path string, results []faceswap.PageResult) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
