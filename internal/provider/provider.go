// Package provider defines the external image capabilities the personalization
// pipeline consumes, together with their typed request and response shapes.
//
// Concrete clients (fal.ai REST, Gemini) live in their own packages and are
// injected into the pipeline through these interfaces. Every response is
// validated here, at the boundary, so the pipeline only ever sees an Image
// with a usable URL or an error.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNoImage is returned when a provider call succeeds at the transport level
// but yields no usable image.
var ErrNoImage = errors.New("provider returned no image")

// Image is a single generated image hosted by a provider or by our storage.
type Image struct {
	URL         string `json:"url"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Validate rejects images without an absolute http(s) or data URL.
func (i Image) Validate() error {
	raw := strings.TrimSpace(i.URL)
	if raw == "" {
		return ErrNoImage
	}
	if strings.HasPrefix(raw, "data:") {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid url %q", ErrNoImage, truncate(raw, 80))
	}
	if i.Width < 0 || i.Height < 0 {
		return fmt.Errorf("%w: negative dimensions %dx%d", ErrNoImage, i.Width, i.Height)
	}
	return nil
}

// --- Stylized portrait generation ---

// StyleParams tunes portrait stylization.
type StyleParams struct {
	ImageSize     string  // e.g. "square_hd"
	GuidanceScale float64 // zero means provider default
	IDWeight      float64 // identity preservation strength, zero means provider default
	Seed          *int
}

// PortraitRequest asks for one stylized portrait of the source photo in a pose.
type PortraitRequest struct {
	SourcePhotoURL string
	PoseDirection  string
	NegativePrompt string
	Style          StyleParams
}

func (r PortraitRequest) Validate() error {
	if r.SourcePhotoURL == "" {
		return errors.New("portrait request: source photo URL is required")
	}
	if r.PoseDirection == "" {
		return errors.New("portrait request: pose direction is required")
	}
	return nil
}

// PortraitStylizer generates stylized portraits.
type PortraitStylizer interface {
	GeneratePortrait(ctx context.Context, req PortraitRequest) (Image, error)
}

// --- Face compositing ---

// StyleHints guide how a face is blended into a target illustration.
type StyleHints struct {
	Gender   string // "male" | "female" | "" (let the provider detect)
	KeepHair bool   // keep the illustration's hair instead of the face image's
	Upscale  bool
}

// CompositeRequest blends FaceImageURL onto TargetImageURL.
type CompositeRequest struct {
	TargetImageURL string
	FaceImageURL   string
	Hints          StyleHints
}

func (r CompositeRequest) Validate() error {
	if r.TargetImageURL == "" || r.FaceImageURL == "" {
		return errors.New("composite request: target and face image URLs are required")
	}
	return nil
}

// FaceCompositor blends a face onto an illustration.
type FaceCompositor interface {
	Composite(ctx context.Context, req CompositeRequest) (Image, error)
}

// --- Prompt-guided edit ---

// EditRequest regenerates an image from a prompt and reference images.
type EditRequest struct {
	Prompt     string
	ImageURLs  []string
	Resolution string // e.g. "1K", "2K"
}

func (r EditRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("edit request: prompt is required")
	}
	if len(r.ImageURLs) == 0 {
		return errors.New("edit request: at least one image URL is required")
	}
	for i, u := range r.ImageURLs {
		if u == "" {
			return fmt.Errorf("edit request: image URL %d is empty", i)
		}
	}
	return nil
}

// EditResult holds every image an edit returned.
type EditResult struct {
	Images []Image
}

// First returns the first valid image, or ErrNoImage.
func (r EditResult) First() (Image, error) {
	for _, img := range r.Images {
		if img.Validate() == nil {
			return img, nil
		}
	}
	return Image{}, ErrNoImage
}

// PromptEditor performs prompt-guided image edits.
type PromptEditor interface {
	EditWithPrompt(ctx context.Context, req EditRequest) (EditResult, error)
}

// --- Basic face swap ---

// SwapRequest puts the face from SwapImageURL onto BaseImageURL.
type SwapRequest struct {
	BaseImageURL string
	SwapImageURL string
}

func (r SwapRequest) Validate() error {
	if r.BaseImageURL == "" || r.SwapImageURL == "" {
		return errors.New("swap request: base and swap image URLs are required")
	}
	return nil
}

// FaceSwapper performs a prompt-less face swap.
type FaceSwapper interface {
	BasicSwap(ctx context.Context, req SwapRequest) (Image, error)
}

// --- Storage ---

// Persister stores bytes durably and returns a URL providers can fetch.
type Persister interface {
	Persist(ctx context.Context, data []byte, path, contentType string) (string, error)
}

// URLBridge makes a URL reachable by external providers. URLs that are
// already public are returned unchanged.
type URLBridge interface {
	Bridge(ctx context.Context, rawURL string) (string, error)
}

// PassthroughBridge returns every URL unchanged.
type PassthroughBridge struct{}

func (PassthroughBridge) Bridge(_ context.Context, rawURL string) (string, error) {
	return rawURL, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
