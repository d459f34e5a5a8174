package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fpang/storybook-faceswap/internal/story"
)

var (
	pagesNameFlag   string
	pagesGenderFlag string
)

var pagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "Print the page table",
	Long: `Pages prints every page of the book with its pose and the text rendered
for the given name and gender, after checking the table is consistent.`,
	RunE: runPages,
}

func init() {
	pagesCmd.Flags().StringVarP(&pagesNameFlag, "name", "n", "Alex", "Child's name")
	pagesCmd.Flags().StringVarP(&pagesGenderFlag, "gender", "g", "neutral", "boy, girl or neutral")
}

func runPages(cmd *cobra.Command, args []string) error {
	if err := story.Validate(); err != nil {
		return err
	}
	gender, err := story.ParseGender(pagesGenderFlag)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAGE\tPOSE\tTEXT")
	for _, p := range story.Pages() {
		pose := "-"
		if p.HasChild {
			pose = string(p.Pose)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", p.Number, pose, story.RenderText(p, pagesNameFlag, gender))
	}
	tw.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d pages, %d with the child, %d poses\n",
		len(story.Pages()), len(story.PagesNeedingFaceSwap()), len(story.PosesFor(story.PagesNeedingFaceSwap())))
	return nil
}
