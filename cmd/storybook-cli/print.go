package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
	"github.com/fpang/storybook-faceswap/internal/progress"
)

// printEvent writes one progress line. st is the reducer state after e.
func printEvent(w io.Writer, e faceswap.Event, st progress.State) {
	switch ev := e.(type) {
	case faceswap.StartEvent:
		fmt.Fprintf(w, "Run %s: %d pages for %s\n", ev.RunID, ev.TotalPages, ev.ChildName)
	case faceswap.PortraitsStartEvent:
		fmt.Fprintf(w, "Generating %d portraits...\n", ev.TotalPoses)
	case faceswap.PortraitCompleteEvent:
		status := "ok"
		if !ev.Success {
			status = "FAILED"
		}
		fmt.Fprintf(w, "  portrait %-24s %-6s (%d/%d)\n", ev.Pose, status, ev.Completed, ev.Total)
	case faceswap.PortraitsCompleteEvent:
		fmt.Fprintf(w, "Portraits done in %.1fs: %d ok, %d failed\n",
			float64(ev.DurationMs)/1000, ev.SuccessCount, ev.FailedCount)
	case faceswap.PageStartEvent:
		if ev.Batch > 0 {
			fmt.Fprintf(w, "  page %2d started (batch %d)\n", ev.PageNumber, ev.Batch)
		}
	case faceswap.ImageEvent:
		status := string(ev.Method)
		if !ev.Success {
			status = "FAILED: " + ev.Error
		}
		fmt.Fprintf(w, "[%3.0f%%] page %2d %s\n", st.Progress(), ev.PageNumber, status)
	case faceswap.CompleteEvent:
		fmt.Fprintf(w, "\nCompleted %d/%d pages in %.1fs\n",
			ev.SuccessCount, ev.TotalPages, float64(ev.TotalTimeMs)/1000)
	case faceswap.ErrorEvent:
		fmt.Fprintf(w, "Error: %s\n", ev.Message)
	}
}

// printResults writes the final per-page table and method breakdown.
func printResults(w io.Writer, st progress.State) {
	results := st.Ordered()
	if len(results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nPAGE\tMETHOD\tTIME\tIMAGE")
	for _, r := range results {
		image := r.ImageURL
		if !r.Success {
			image = "error: " + r.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%.1fs\t%s\n", r.PageNumber, r.Method, float64(r.ProcessingTimeMs)/1000, image)
	}
	tw.Flush()

	fmt.Fprint(w, "\nMethods:")
	for _, m := range faceswap.AllMethods {
		if n := st.Methods[m]; n > 0 {
			fmt.Fprintf(w, " %s=%d", m, n)
		}
	}
	fmt.Fprintln(w)
}
