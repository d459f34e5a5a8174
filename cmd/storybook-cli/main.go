// Command storybook-cli personalizes the storybook from the terminal, either
// in-process or against a running storybook-web server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Shared request flags
var (
	nameFlag        string
	genderFlag      string
	photoFlag       string
	pickFlag        bool
	pagesFlag       []int
	concurrencyFlag int
	noFallbackFlag  bool
	noNanoFlag      bool
	noSwapFlag      bool
)

var rootCmd = &cobra.Command{
	Use:   "storybook-cli",
	Short: "Personalize the storybook with a child's face",
	Long: `Storybook CLI generates the personalized storybook from one photo.

  run     run the pipeline in-process and print progress
  watch   start a run on a storybook-web server and follow its event stream
  pages   print the page table

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd, watchCmd, pagesCmd)
}

// addRequestFlags registers the flags that make up a personalization request.
func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&nameFlag, "name", "n", "", "Child's name (required)")
	cmd.Flags().StringVarP(&genderFlag, "gender", "g", "neutral", "boy, girl or neutral")
	cmd.Flags().StringVarP(&photoFlag, "photo", "p", "", "Photo URL or local file")
	cmd.Flags().BoolVar(&pickFlag, "pick", false, "Choose the photo with a file dialog")
	cmd.Flags().IntSliceVar(&pagesFlag, "pages", nil, "Only these pages (default: all pages with the child)")
	cmd.Flags().IntVarP(&concurrencyFlag, "concurrency", "c", 0, "Pages per batch")
	cmd.Flags().BoolVar(&noFallbackFlag, "no-fallback", false, "Disable the Nano Banana and basic swap tiers")
	cmd.Flags().BoolVar(&noNanoFlag, "no-nano-banana", false, "Disable the Nano Banana tier")
	cmd.Flags().BoolVar(&noSwapFlag, "no-basic-swap", false, "Disable the basic face swap tier")
	cmd.MarkFlagRequired("name")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
