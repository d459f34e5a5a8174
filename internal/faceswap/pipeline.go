package faceswap

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/storybook-faceswap/internal/provider"
	"github.com/fpang/storybook-faceswap/internal/story"
)

// PhotoPreparer normalizes the child's photo before any provider sees it and
// returns the URL to use instead.
type PhotoPreparer interface {
	PrepareSourcePhoto(ctx context.Context, photoURL, runID string) (string, error)
}

// Deps are the collaborators of a Pipeline. Stylizer and Compositor are
// required; everything else may be nil.
type Deps struct {
	Stylizer          provider.PortraitStylizer
	Compositor        provider.FaceCompositor
	Editor            provider.PromptEditor
	Swapper           provider.FaceSwapper
	Bridge            provider.URLBridge
	Rehoster          Rehoster
	Preparer          PhotoPreparer
	CompositorOptions CompositorOptions
	PortraitStyle     provider.StyleParams
}

// Pipeline orchestrates portrait generation and page processing.
type Pipeline struct {
	portraits *PortraitGenerator
	chain     *FallbackChain
	bridge    provider.URLBridge
	preparer  PhotoPreparer
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	opts := deps.CompositorOptions.withDefaults()
	bridge := deps.Bridge
	if bridge == nil {
		bridge = provider.PassthroughBridge{}
	}
	return &Pipeline{
		portraits: NewPortraitGenerator(deps.Stylizer, opts.Timeout, deps.PortraitStyle),
		chain:     NewFallbackChain(NewCompositor(deps.Compositor, opts), deps.Editor, deps.Swapper, deps.Rehoster),
		bridge:    bridge,
		preparer:  deps.Preparer,
	}
}

// Run executes a full personalization run and streams progress to sink.
//
// Cancelling ctx stops new batches from being dispatched. Provider calls that
// are already in flight are allowed to finish. On a fatal error an error
// event is emitted and the returned Result (possibly nil) holds the pages
// resolved so far.
func (p *Pipeline) Run(ctx context.Context, cfg Config, sink EventSink) (*Result, error) {
	if sink == nil {
		sink = Discard
	}
	sink = &lockedSink{sink: sink}
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, p.fail(sink, cfg.RunID, err)
	}
	pages := cfg.workingSet()
	logger := log.With().Str("runId", cfg.RunID).Logger()
	logger.Info().Ints("pages", pages).Int("concurrency", cfg.batchSize()).Msg("Pipeline run started")

	sink.Emit(StartEvent{
		RunID:       cfg.RunID,
		ChildName:   cfg.ChildName,
		TotalPages:  len(pages),
		PageNumbers: pages,
	})

	// Provider work runs on a context that outlives the caller so that a
	// disconnect never abandons a billable call halfway.
	work := context.WithoutCancel(ctx)

	sourceURL, err := p.sourcePhoto(work, cfg)
	if err != nil {
		return nil, p.fail(sink, cfg.RunID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, p.fail(sink, cfg.RunID, fmt.Errorf("run cancelled before portrait generation: %w", err))
	}

	// Stage 1.
	poses := stagePoses(cfg, pages)
	sink.Emit(PortraitsStartEvent{TotalPoses: len(poses)})
	portraits := p.portraits.GenerateAll(work, sourceURL, poses, func(pose story.Pose, success bool, completed int) {
		sink.Emit(PortraitCompleteEvent{Pose: pose, Success: success, Completed: completed, Total: len(poses)})
	})
	sink.Emit(PortraitsCompleteEvent{
		SuccessCount: portraits.SuccessCount,
		FailedCount:  len(portraits.FailedPoses),
		FailedPoses:  nonNilPoses(portraits.FailedPoses),
		DurationMs:   portraits.TotalTime.Milliseconds(),
	})

	// Stage 2.
	pageStart := time.Now()
	results, stageErr := p.processPages(ctx, work, cfg, pages, sourceURL, portraits.Cache, sink)
	sortResults(results)

	res := summarize(cfg.RunID, results)
	res.FailedPoses = portraits.FailedPoses
	res.PortraitDuration = portraits.TotalTime
	res.PageDuration = time.Since(pageStart)
	res.TotalDuration = time.Since(start)

	if stageErr != nil {
		return res, p.fail(sink, cfg.RunID, stageErr)
	}

	sink.Emit(CompleteEvent{
		RunID:           cfg.RunID,
		TotalPages:      len(results),
		SuccessCount:    res.SuccessCount,
		FailedCount:     res.FailedCount,
		PortraitTimeMs:  res.PortraitDuration.Milliseconds(),
		PageTimeMs:      res.PageDuration.Milliseconds(),
		TotalTimeMs:     res.TotalDuration.Milliseconds(),
		MethodBreakdown: res.Methods,
		Results:         results,
	})
	logger.Info().
		Int("succeeded", res.SuccessCount).
		Int("failed", res.FailedCount).
		Dur("duration", res.TotalDuration).
		Msg("Pipeline run complete")
	return res, nil
}

// processPages runs Stage 2. Pages without a child resolve immediately.
// Child pages run in batches of cfg.batchSize(); a batch starts only after
// the previous one has fully resolved.
func (p *Pipeline) processPages(ctx, work context.Context, cfg Config, pages []int, sourceURL string, cache PortraitCache, sink EventSink) ([]PageResult, error) {
	results := make([]PageResult, 0, len(pages))
	var childPages []story.Page
	for _, n := range pages {
		page, _ := story.PageByNumber(n)
		if page.HasChild {
			childPages = append(childPages, page)
			continue
		}
		sink.Emit(PageStartEvent{PageNumber: n})
		r := p.resolvePage(work, cfg, page, sourceURL, cache)
		sink.Emit(ImageEvent{PageResult: r})
		results = append(results, r)
	}

	size := cfg.batchSize()
	for batchNum, lo := 1, 0; lo < len(childPages); batchNum, lo = batchNum+1, lo+size {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("run cancelled before batch %d: %w", batchNum, err)
		}
		batch := childPages[lo:min(lo+size, len(childPages))]
		batchResults := make([]PageResult, len(batch))
		done := make([]bool, len(batch))

		var g errgroup.Group
		for i, page := range batch {
			sink.Emit(PageStartEvent{PageNumber: page.Number, Batch: batchNum})
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("page %d: unexpected panic: %v", page.Number, r)
					}
				}()
				r := p.resolvePage(work, cfg, page, sourceURL, cache)
				batchResults[i] = r
				done[i] = true
				sink.Emit(ImageEvent{PageResult: r})
				return nil
			})
		}
		err := g.Wait()
		for i := range batch {
			if done[i] {
				results = append(results, batchResults[i])
			}
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// ProcessPage resolves a single page without streaming. Only the portrait for
// that page's pose is generated. It is used to retry one failed page.
func (p *Pipeline) ProcessPage(ctx context.Context, cfg Config, pageNumber int) (PageResult, error) {
	if err := cfg.Validate(); err != nil {
		return PageResult{}, err
	}
	page, ok := story.PageByNumber(pageNumber)
	if !ok {
		return PageResult{}, fmt.Errorf("page %d: %w", pageNumber, story.ErrUnknownPage)
	}
	work := context.WithoutCancel(ctx)

	sourceURL, err := p.sourcePhoto(work, cfg)
	if err != nil {
		return PageResult{}, err
	}
	cache := NewPortraitCache()
	if pose, ok := story.PoseForPage(pageNumber); ok {
		cache = p.portraits.GenerateAll(work, sourceURL, []story.Pose{pose}, nil).Cache
	}
	r := p.resolvePage(work, cfg, page, sourceURL, cache)
	log.Info().
		Str("runId", cfg.RunID).
		Int("page", pageNumber).
		Str("method", string(r.Method)).
		Bool("success", r.Success).
		Msg("Single page processed")
	return r, nil
}

// resolvePage builds the chain job for a page and turns the outcome into a
// PageResult.
func (p *Pipeline) resolvePage(ctx context.Context, cfg Config, page story.Page, sourceURL string, cache PortraitCache) PageResult {
	start := time.Now()
	result := PageResult{
		PageNumber:    page.Number,
		LocalizedText: story.RenderText(page, cfg.ChildName, cfg.Gender),
		Method:        MethodOriginal,
	}

	illustration, err := story.IllustrationURL(cfg.IllustrationBaseURL, page)
	if err != nil {
		result.Error = err.Error()
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		return result
	}

	var outcome ChainOutcome
	if page.HasChild {
		bridged, err := p.bridge.Bridge(ctx, illustration)
		if err != nil {
			outcome = ChainOutcome{Method: MethodOriginal, Err: fmt.Errorf("bridge illustration: %w", err)}
		} else {
			outcome = p.chain.Resolve(ctx, PageJob{
				RunID:           cfg.RunID,
				Page:            page,
				IllustrationURL: bridged,
				SourcePhotoURL:  sourceURL,
				ChildName:       cfg.ChildName,
				Gender:          cfg.Gender,
				Portraits:       cache,
				NanoBanana:      cfg.nanoBananaEnabled(),
				BasicSwap:       cfg.basicSwapEnabled(),
			})
		}
	} else {
		outcome = p.chain.Resolve(ctx, PageJob{RunID: cfg.RunID, Page: page, IllustrationURL: illustration})
	}

	if outcome.Method == MethodOriginal {
		outcome.ImageURL = illustration
	}
	result.Success = outcome.Success
	result.ImageURL = outcome.ImageURL
	result.Method = outcome.Method
	if outcome.Err != nil {
		result.Error = outcome.Err.Error()
	}
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result
}

// sourcePhoto makes the child's photo reachable by providers. Preparation is
// best effort; bridging is not.
func (p *Pipeline) sourcePhoto(ctx context.Context, cfg Config) (string, error) {
	bridged, err := p.bridge.Bridge(ctx, cfg.SourcePhotoURL)
	if err != nil {
		return "", fmt.Errorf("bridge source photo: %w", err)
	}
	if p.preparer == nil {
		return bridged, nil
	}
	prepared, err := p.preparer.PrepareSourcePhoto(ctx, bridged, cfg.RunID)
	if err != nil {
		log.Warn().Err(err).Str("runId", cfg.RunID).Msg("Source photo preparation failed, using original")
		return bridged, nil
	}
	return prepared, nil
}

func (p *Pipeline) fail(sink EventSink, runID string, err error) error {
	log.Error().Err(err).Str("runId", runID).Msg("Pipeline run failed")
	sink.Emit(ErrorEvent{Message: err.Error()})
	return err
}

// stagePoses picks the Stage 1 pose set. A run whose pages have no child
// generates nothing.
func stagePoses(cfg Config, pages []int) []story.Pose {
	if len(story.PosesFor(pages)) == 0 {
		return nil
	}
	return cfg.poses()
}

func sortResults(results []PageResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].PageNumber < results[j].PageNumber
	})
}

func nonNilPoses(p []story.Pose) []story.Pose {
	if p == nil {
		return []story.Pose{}
	}
	return p
}
