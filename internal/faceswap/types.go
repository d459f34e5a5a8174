// Package faceswap runs the hybrid face personalization pipeline.
//
// A run has two stages. Stage 1 generates one stylized portrait of the child
// per pose, all poses concurrently, and collects the successes into an
// immutable PortraitCache. Stage 2 walks the requested pages in fixed-size
// batches and resolves each child-bearing page through a five-tier
// FallbackChain:
//
//	easel-stylized -> easel-original -> nano-banana -> basic-faceswap -> original
//
// The chain never returns an error. When every personalization tier fails
// the page falls back to its unmodified illustration and is reported as a
// failure. Progress is reported through an EventSink as typed events.
package faceswap

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fpang/storybook-faceswap/internal/story"
)

// Defaults.
const (
	DefaultConcurrency      = 3
	MaxConcurrency          = 10
	DefaultCompositeTimeout = 120 * time.Second
	DefaultMaxRetries       = 2
	MaxCompositeRetries     = 10
	DefaultRetryBaseDelay   = 2 * time.Second
)

// ErrInvalidConfig wraps every run configuration error.
var ErrInvalidConfig = errors.New("invalid pipeline config")

// Method records which chain tier produced a page image.
type Method string

const (
	MethodEaselStylized Method = "easel-stylized"
	MethodEaselOriginal Method = "easel-original"
	MethodNanoBanana    Method = "nano-banana"
	MethodBasicFaceSwap Method = "basic-faceswap"
	MethodOriginal      Method = "original"
)

// AllMethods lists every method in chain order.
var AllMethods = []Method{
	MethodEaselStylized,
	MethodEaselOriginal,
	MethodNanoBanana,
	MethodBasicFaceSwap,
	MethodOriginal,
}

// MethodBreakdown counts pages per method.
type MethodBreakdown map[Method]int

// NewMethodBreakdown returns a breakdown with every method present at zero.
func NewMethodBreakdown() MethodBreakdown {
	b := make(MethodBreakdown, len(AllMethods))
	for _, m := range AllMethods {
		b[m] = 0
	}
	return b
}

// PageResult is the outcome for one page of one run.
type PageResult struct {
	PageNumber       int    `json:"pageNumber"`
	Success          bool   `json:"success"`
	ImageURL         string `json:"imageUrl"`
	LocalizedText    string `json:"localizedText"`
	Method           Method `json:"method"`
	Error            string `json:"error,omitempty"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
}

// Config is the input for one run. It is not modified by the pipeline.
type Config struct {
	RunID               string
	SourcePhotoURL      string
	ChildName           string
	Gender              story.Gender
	IllustrationBaseURL string

	// Concurrency is the Stage 2 batch size. Zero means DefaultConcurrency.
	Concurrency int

	// EnableFallback gates the non-Easel tiers. Tier 3 runs only when both
	// EnableFallback and EnableNanoBanana are set, tier 4 likewise with
	// EnableBasicSwap. Tiers 1, 2 and 5 always apply.
	EnableFallback   bool
	EnableNanoBanana bool
	EnableBasicSwap  bool

	// PageNumbers restricts the run. Empty means every child-bearing page.
	PageNumbers []int

	// Poses restricts Stage 1. Empty means story.AllPoses.
	Poses []story.Pose
}

// Validate checks the config and returns an error wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	if c.SourcePhotoURL == "" {
		return fmt.Errorf("%w: source photo is required", ErrInvalidConfig)
	}
	if c.ChildName == "" {
		return fmt.Errorf("%w: child name is required", ErrInvalidConfig)
	}
	if len(c.ChildName) > 64 {
		return fmt.Errorf("%w: child name is longer than 64 characters", ErrInvalidConfig)
	}
	if c.IllustrationBaseURL == "" {
		return fmt.Errorf("%w: illustration base URL is required", ErrInvalidConfig)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must not be negative", ErrInvalidConfig)
	}
	seen := make(map[int]bool, len(c.PageNumbers))
	for _, n := range c.PageNumbers {
		if _, ok := story.PageByNumber(n); !ok {
			return fmt.Errorf("%w: page %d: %w", ErrInvalidConfig, n, story.ErrUnknownPage)
		}
		if seen[n] {
			return fmt.Errorf("%w: page %d requested twice", ErrInvalidConfig, n)
		}
		seen[n] = true
	}
	for _, p := range c.Poses {
		if !p.Valid() {
			return fmt.Errorf("%w: unknown pose %q", ErrInvalidConfig, p)
		}
	}
	return nil
}

func (c Config) batchSize() int {
	switch {
	case c.Concurrency <= 0:
		return DefaultConcurrency
	case c.Concurrency > MaxConcurrency:
		return MaxConcurrency
	}
	return c.Concurrency
}

func (c Config) poses() []story.Pose {
	if len(c.Poses) > 0 {
		return c.Poses
	}
	return story.AllPoses
}

// workingSet returns the pages to process in ascending order.
func (c Config) workingSet() []int {
	if len(c.PageNumbers) == 0 {
		return story.PagesNeedingFaceSwap()
	}
	pages := make([]int, len(c.PageNumbers))
	copy(pages, c.PageNumbers)
	sort.Ints(pages)
	return pages
}

func (c Config) nanoBananaEnabled() bool { return c.EnableFallback && c.EnableNanoBanana }
func (c Config) basicSwapEnabled() bool  { return c.EnableFallback && c.EnableBasicSwap }

// Result is the summary of a completed run.
type Result struct {
	RunID            string
	Results          []PageResult
	FailedPoses      []story.Pose
	PortraitDuration time.Duration
	PageDuration     time.Duration
	TotalDuration    time.Duration
	SuccessCount     int
	FailedCount      int
	Methods          MethodBreakdown
}

func summarize(runID string, results []PageResult) *Result {
	r := &Result{RunID: runID, Results: results, Methods: NewMethodBreakdown()}
	for _, pr := range results {
		r.Methods[pr.Method]++
		if pr.Success {
			r.SuccessCount++
		} else {
			r.FailedCount++
		}
	}
	return r
}
