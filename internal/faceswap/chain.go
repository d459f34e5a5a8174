package faceswap

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/provider"
	"github.com/fpang/storybook-faceswap/internal/story"
)

// DefaultEditResolution is passed to the prompt-guided edit.
const DefaultEditResolution = "1K"

// Rehoster copies a provider-hosted image into durable storage. It is best
// effort: on failure it returns sourceURL unchanged.
type Rehoster interface {
	Rehost(ctx context.Context, sourceURL, key string) string
}

// PageJob is everything the chain needs to resolve one page.
type PageJob struct {
	RunID           string
	Page            story.Page
	IllustrationURL string // reachable by providers
	SourcePhotoURL  string // reachable by providers
	ChildName       string
	Gender          story.Gender
	Portraits       PortraitCache
	NanoBanana      bool
	BasicSwap       bool
}

// ChainOutcome is the single result of resolving a page.
type ChainOutcome struct {
	ImageURL string
	Method   Method
	Success  bool
	Err      error // last tier failure, nil on success
}

// tierOutcome is the tagged result of one tier.
type tierOutcome struct {
	image   provider.Image
	ok      bool
	skipped bool
	err     error
}

func tierSkipped() tierOutcome                     { return tierOutcome{skipped: true} }
func tierFailed(err error) tierOutcome             { return tierOutcome{err: err} }
func tierSucceeded(img provider.Image) tierOutcome { return tierOutcome{image: img, ok: true} }

// FallbackChain resolves a page through the personalization tiers in order.
type FallbackChain struct {
	compositor *Compositor
	editor     provider.PromptEditor // nil disables tier 3
	swapper    provider.FaceSwapper  // nil disables tier 4
	rehoster   Rehoster              // nil keeps provider URLs
}

// NewFallbackChain builds a chain. editor, swapper and rehoster may be nil.
func NewFallbackChain(compositor *Compositor, editor provider.PromptEditor, swapper provider.FaceSwapper, rehoster Rehoster) *FallbackChain {
	return &FallbackChain{compositor: compositor, editor: editor, swapper: swapper, rehoster: rehoster}
}

type tier struct {
	method Method
	run    func(context.Context, PageJob) tierOutcome
}

func (c *FallbackChain) tiers() []tier {
	return []tier{
		{MethodEaselStylized, c.stylizedComposite},
		{MethodEaselOriginal, c.originalComposite},
		{MethodNanoBanana, c.promptEdit},
		{MethodBasicFaceSwap, c.basicSwap},
	}
}

// Resolve returns exactly one outcome and never fails. A page without a child
// gets its illustration back as a success; a child page whose tiers all fail
// gets its illustration back as a failure.
func (c *FallbackChain) Resolve(ctx context.Context, job PageJob) ChainOutcome {
	if !job.Page.HasChild {
		return ChainOutcome{ImageURL: job.IllustrationURL, Method: MethodOriginal, Success: true}
	}

	var lastErr error
	for _, t := range c.tiers() {
		start := time.Now()
		out := t.run(ctx, job)
		logger := log.With().
			Str("runId", job.RunID).
			Int("page", job.Page.Number).
			Str("tier", string(t.method)).
			Dur("duration", time.Since(start)).
			Logger()
		switch {
		case out.skipped:
			logger.Debug().Msg("Tier skipped")
		case out.ok:
			logger.Info().Msg("Tier succeeded")
			return ChainOutcome{
				ImageURL: c.persist(ctx, job, out.image),
				Method:   t.method,
				Success:  true,
			}
		default:
			logger.Warn().Err(out.err).Msg("Tier failed, falling through")
			lastErr = out.err
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no personalization tier was applicable")
	}
	log.Warn().Str("runId", job.RunID).Int("page", job.Page.Number).Msg("All tiers failed, using original illustration")
	return ChainOutcome{ImageURL: job.IllustrationURL, Method: MethodOriginal, Success: false, Err: lastErr}
}

func (c *FallbackChain) stylizedComposite(ctx context.Context, job PageJob) tierOutcome {
	portrait, ok := job.Portraits.Get(job.Page.Pose)
	if !ok {
		return tierSkipped()
	}
	return c.composite(ctx, job, portrait.ImageURL)
}

func (c *FallbackChain) originalComposite(ctx context.Context, job PageJob) tierOutcome {
	return c.composite(ctx, job, job.SourcePhotoURL)
}

func (c *FallbackChain) composite(ctx context.Context, job PageJob, faceURL string) tierOutcome {
	out := c.compositor.Composite(ctx, provider.CompositeRequest{
		TargetImageURL: job.IllustrationURL,
		FaceImageURL:   faceURL,
		Hints:          hintsFor(job.Gender),
	})
	if !out.OK {
		return tierFailed(out.Err)
	}
	return tierSucceeded(out.Image)
}

func (c *FallbackChain) promptEdit(ctx context.Context, job PageJob) tierOutcome {
	if !job.NanoBanana || c.editor == nil {
		return tierSkipped()
	}
	res, err := c.editor.EditWithPrompt(ctx, provider.EditRequest{
		Prompt:     story.EditPrompt(job.Page, job.ChildName, job.Gender),
		ImageURLs:  []string{job.IllustrationURL, job.SourcePhotoURL},
		Resolution: DefaultEditResolution,
	})
	if err != nil {
		return tierFailed(fmt.Errorf("prompt edit: %w", err))
	}
	img, err := res.First()
	if err != nil {
		return tierFailed(fmt.Errorf("prompt edit: %w", err))
	}
	return tierSucceeded(img)
}

func (c *FallbackChain) basicSwap(ctx context.Context, job PageJob) tierOutcome {
	if !job.BasicSwap || c.swapper == nil {
		return tierSkipped()
	}
	img, err := c.swapper.BasicSwap(ctx, provider.SwapRequest{
		BaseImageURL: job.IllustrationURL,
		SwapImageURL: job.SourcePhotoURL,
	})
	if err == nil {
		err = img.Validate()
	}
	if err != nil {
		return tierFailed(fmt.Errorf("basic swap: %w", err))
	}
	return tierSucceeded(img)
}

func (c *FallbackChain) persist(ctx context.Context, job PageJob, img provider.Image) string {
	if c.rehoster == nil || job.RunID == "" {
		return img.URL
	}
	key := path.Join("runs", job.RunID, fmt.Sprintf("page-%02d", job.Page.Number))
	return c.rehoster.Rehost(ctx, img.URL, key)
}

func hintsFor(g story.Gender) provider.StyleHints {
	h := provider.StyleHints{}
	switch g {
	case story.GenderBoy:
		h.Gender = "male"
	case story.GenderGirl:
		h.Gender = "female"
	}
	return h
}
