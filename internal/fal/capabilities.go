package fal

import (
	"context"
	"fmt"

	"github.com/fpang/storybook-faceswap/internal/provider"
)

// --- wire types ---

type falImage struct {
	URL         string `json:"url"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentType string `json:"content_type"`
}

func (i *falImage) toImage() provider.Image {
	if i == nil {
		return provider.Image{}
	}
	return provider.Image{URL: i.URL, Width: i.Width, Height: i.Height, ContentType: i.ContentType}
}

type imagesResponse struct {
	Images []falImage `json:"images"`
}

type imageResponse struct {
	Image *falImage `json:"image"`
}

type portraitRequest struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	ReferenceImageURL string  `json:"reference_image_url"`
	ImageSize         string  `json:"image_size,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	IDWeight          float64 `json:"id_weight,omitempty"`
	Seed              *int    `json:"seed,omitempty"`
	NumImages         int     `json:"num_images"`
	OutputFormat      string  `json:"output_format,omitempty"`
}

type compositeRequest struct {
	FaceImage0   string `json:"face_image_0"`
	Gender0      string `json:"gender_0,omitempty"`
	TargetImage  string `json:"target_image"`
	WorkflowType string `json:"workflow_type"`
	Upscale      bool   `json:"upscale"`
}

type editRequest struct {
	Prompt       string   `json:"prompt"`
	ImageURLs    []string `json:"image_urls"`
	NumImages    int      `json:"num_images"`
	OutputFormat string   `json:"output_format"`
	Resolution   string   `json:"resolution,omitempty"`
}

type swapRequest struct {
	BaseImageURL string `json:"base_image_url"`
	SwapImageURL string `json:"swap_image_url"`
}

// --- capabilities ---

// GeneratePortrait renders one stylized portrait. Zero images is a failure.
func (c *Client) GeneratePortrait(ctx context.Context, req provider.PortraitRequest) (provider.Image, error) {
	if err := req.Validate(); err != nil {
		return provider.Image{}, err
	}
	var resp imagesResponse
	err := c.post(ctx, c.endpoints.Portrait, portraitRequest{
		Prompt:            req.PoseDirection,
		NegativePrompt:    req.NegativePrompt,
		ReferenceImageURL: req.SourcePhotoURL,
		ImageSize:         req.Style.ImageSize,
		GuidanceScale:     req.Style.GuidanceScale,
		IDWeight:          req.Style.IDWeight,
		Seed:              req.Style.Seed,
		NumImages:         1,
		OutputFormat:      "png",
	}, &resp)
	if err != nil {
		return provider.Image{}, err
	}
	return firstImage(c.endpoints.Portrait, resp.Images)
}

// Composite blends a face onto a target illustration with Easel.
func (c *Client) Composite(ctx context.Context, req provider.CompositeRequest) (provider.Image, error) {
	if err := req.Validate(); err != nil {
		return provider.Image{}, err
	}
	workflow := "user_hair"
	if req.Hints.KeepHair {
		workflow = "target_hair"
	}
	var resp imageResponse
	err := c.post(ctx, c.endpoints.Composite, compositeRequest{
		FaceImage0:   req.FaceImageURL,
		Gender0:      req.Hints.Gender,
		TargetImage:  req.TargetImageURL,
		WorkflowType: workflow,
		Upscale:      req.Hints.Upscale,
	}, &resp)
	if err != nil {
		return provider.Image{}, err
	}
	return singleImage(c.endpoints.Composite, resp.Image)
}

// EditWithPrompt runs the nano-banana edit. Zero images is a failure.
func (c *Client) EditWithPrompt(ctx context.Context, req provider.EditRequest) (provider.EditResult, error) {
	if err := req.Validate(); err != nil {
		return provider.EditResult{}, err
	}
	var resp imagesResponse
	err := c.post(ctx, c.endpoints.Edit, editRequest{
		Prompt:       req.Prompt,
		ImageURLs:    req.ImageURLs,
		NumImages:    1,
		OutputFormat: "png",
		Resolution:   req.Resolution,
	}, &resp)
	if err != nil {
		return provider.EditResult{}, err
	}
	result := provider.EditResult{Images: make([]provider.Image, 0, len(resp.Images))}
	for i := range resp.Images {
		result.Images = append(result.Images, resp.Images[i].toImage())
	}
	if _, err := result.First(); err != nil {
		return provider.EditResult{}, fmt.Errorf("fal %s: %w", c.endpoints.Edit, err)
	}
	return result, nil
}

// BasicSwap performs a prompt-less face swap.
func (c *Client) BasicSwap(ctx context.Context, req provider.SwapRequest) (provider.Image, error) {
	if err := req.Validate(); err != nil {
		return provider.Image{}, err
	}
	var resp imageResponse
	err := c.post(ctx, c.endpoints.BasicSwap, swapRequest{
		BaseImageURL: req.BaseImageURL,
		SwapImageURL: req.SwapImageURL,
	}, &resp)
	if err != nil {
		return provider.Image{}, err
	}
	return singleImage(c.endpoints.BasicSwap, resp.Image)
}

func firstImage(endpoint string, images []falImage) (provider.Image, error) {
	for i := range images {
		img := images[i].toImage()
		if img.Validate() == nil {
			return img, nil
		}
	}
	return provider.Image{}, fmt.Errorf("fal %s: %w", endpoint, provider.ErrNoImage)
}

func singleImage(endpoint string, raw *falImage) (provider.Image, error) {
	img := raw.toImage()
	if err := img.Validate(); err != nil {
		return provider.Image{}, fmt.Errorf("fal %s: %w", endpoint, err)
	}
	return img, nil
}
