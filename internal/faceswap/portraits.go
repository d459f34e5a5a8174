package faceswap

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/provider"
	"github.com/fpang/storybook-faceswap/internal/story"
)

// Portrait is a stylized portrait of the child in one pose.
type Portrait struct {
	Pose     story.Pose
	ImageURL string
	Width    int
	Height   int
}

// PortraitCache maps poses to portraits. It is built once by Stage 1 and only
// read afterwards, so it needs no locking. A missing pose is normal and
// makes the chain skip tier 1.
type PortraitCache struct {
	byPose map[story.Pose]Portrait
}

// NewPortraitCache builds a cache. A later portrait for the same pose
// replaces an earlier one.
func NewPortraitCache(portraits ...Portrait) PortraitCache {
	m := make(map[story.Pose]Portrait, len(portraits))
	for _, p := range portraits {
		m[p.Pose] = p
	}
	return PortraitCache{byPose: m}
}

// Get returns the portrait for a pose.
func (c PortraitCache) Get(pose story.Pose) (Portrait, bool) {
	p, ok := c.byPose[pose]
	return p, ok
}

// Len is the number of cached poses.
func (c PortraitCache) Len() int { return len(c.byPose) }

// Poses returns the cached poses in story.AllPoses order.
func (c PortraitCache) Poses() []story.Pose {
	var out []story.Pose
	for _, p := range story.AllPoses {
		if _, ok := c.byPose[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// PortraitRun is the Stage 1 outcome.
type PortraitRun struct {
	Cache        PortraitCache
	SuccessCount int
	FailedPoses  []story.Pose
	TotalTime    time.Duration
}

// PortraitCallback is invoked once per pose as soon as its attempt settles.
// completed counts settled poses so far and increases by one on every call.
type PortraitCallback func(pose story.Pose, success bool, completed int)

// PortraitGenerator turns one source photo into a portrait per pose.
type PortraitGenerator struct {
	stylizer provider.PortraitStylizer
	timeout  time.Duration
	style    provider.StyleParams
}

// NewPortraitGenerator creates a generator. timeout bounds each pose call.
func NewPortraitGenerator(stylizer provider.PortraitStylizer, timeout time.Duration, style provider.StyleParams) *PortraitGenerator {
	if timeout <= 0 {
		timeout = DefaultCompositeTimeout
	}
	return &PortraitGenerator{stylizer: stylizer, timeout: timeout, style: style}
}

type poseOutcome struct {
	pose     story.Pose
	portrait Portrait
	err      error
}

// GenerateAll issues one stylization call per pose, all at once. A failing
// pose never affects the others. onEach may be nil.
func (g *PortraitGenerator) GenerateAll(ctx context.Context, sourcePhotoURL string, poses []story.Pose, onEach PortraitCallback) PortraitRun {
	start := time.Now()
	outcomes := make(chan poseOutcome, len(poses))

	for _, pose := range poses {
		go func() {
			outcomes <- g.generateOne(ctx, sourcePhotoURL, pose)
		}()
	}

	var (
		succeeded []Portrait
		failed    []story.Pose
	)
	for completed := 1; completed <= len(poses); completed++ {
		o := <-outcomes
		if o.err != nil {
			log.Warn().Err(o.err).Str("pose", string(o.pose)).Msg("Portrait generation failed")
			failed = append(failed, o.pose)
		} else {
			succeeded = append(succeeded, o.portrait)
		}
		if onEach != nil {
			onEach(o.pose, o.err == nil, completed)
		}
	}

	run := PortraitRun{
		Cache:        NewPortraitCache(succeeded...),
		SuccessCount: len(succeeded),
		FailedPoses:  orderPoses(failed),
		TotalTime:    time.Since(start),
	}
	log.Info().
		Int("succeeded", run.SuccessCount).
		Int("failed", len(run.FailedPoses)).
		Dur("duration", run.TotalTime).
		Msg("Portrait generation complete")
	return run
}

func (g *PortraitGenerator) generateOne(ctx context.Context, sourcePhotoURL string, pose story.Pose) poseOutcome {
	req := provider.PortraitRequest{
		SourcePhotoURL: sourcePhotoURL,
		PoseDirection:  story.PoseDirection(pose),
		NegativePrompt: story.NegativePrompt,
		Style:          g.style,
	}
	img, err := callWithTimeout(ctx, g.timeout, "portrait "+string(pose), func(ctx context.Context) (provider.Image, error) {
		return g.stylizer.GeneratePortrait(ctx, req)
	})
	if err == nil {
		err = img.Validate()
	}
	if err != nil {
		return poseOutcome{pose: pose, err: err}
	}
	return poseOutcome{
		pose:     pose,
		portrait: Portrait{Pose: pose, ImageURL: img.URL, Width: img.Width, Height: img.Height},
	}
}

// orderPoses sorts poses into story.AllPoses order.
func orderPoses(poses []story.Pose) []story.Pose {
	in := make(map[story.Pose]bool, len(poses))
	for _, p := range poses {
		in[p] = true
	}
	out := make([]story.Pose, 0, len(poses))
	for _, p := range story.AllPoses {
		if in[p] {
			out = append(out, p)
		}
	}
	return out
}
