// Package gemini implements the prompt-guided edit capability on the Gemini
// image model through the google.golang.org/genai SDK. It is an alternative
// to the fal nano-banana endpoint for the third fallback tier.
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/storybook-faceswap/internal/metrics"
	"github.com/fpang/storybook-faceswap/internal/provider"
)

// DefaultModel is the Gemini image model used for edits.
const DefaultModel = "gemini-3-pro-image-preview"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ImageFetcher downloads a reference image.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Editor implements provider.PromptEditor.
type Editor struct {
	models    contentGenerator
	model     string
	fetcher   ImageFetcher
	persister provider.Persister
}

var _ provider.PromptEditor = (*Editor)(nil)

// NewClient creates a Gemini API client for apiKey.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// NewEditor creates an Editor. Edited images are returned inline by the API,
// so persister stores them and supplies the URL; with a nil persister the
// result is a data: URL.
func NewEditor(client *genai.Client, model string, fetcher ImageFetcher, persister provider.Persister) *Editor {
	return newEditor(client.Models, model, fetcher, persister)
}

func newEditor(models contentGenerator, model string, fetcher ImageFetcher, persister provider.Persister) *Editor {
	if model == "" {
		model = DefaultModel
	}
	return &Editor{models: models, model: model, fetcher: fetcher, persister: persister}
}

// EditWithPrompt sends the reference images followed by the prompt and
// returns the first image the model produces.
func (e *Editor) EditWithPrompt(ctx context.Context, req provider.EditRequest) (provider.EditResult, error) {
	if err := req.Validate(); err != nil {
		return provider.EditResult{}, err
	}

	parts := make([]*genai.Part, 0, len(req.ImageURLs)+1)
	for i, u := range req.ImageURLs {
		data, ct, err := e.fetcher.Fetch(ctx, u)
		if err != nil {
			return provider.EditResult{}, fmt.Errorf("gemini edit: reference image %d: %w", i, err)
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: imageMIME(ct), Data: data},
		})
	}
	parts = append(parts, &genai.Part{Text: req.Prompt})

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	if req.Resolution != "" {
		config.ImageConfig = &genai.ImageConfig{ImageSize: req.Resolution}
	}

	log.Debug().
		Str("model", e.model).
		Int("reference_images", len(req.ImageURLs)).
		Str("resolution", req.Resolution).
		Msg("Starting Gemini image edit")

	start := time.Now()
	resp, err := e.models.GenerateContent(ctx, e.model, []*genai.Content{{Role: "user", Parts: parts}}, config)
	elapsed := time.Since(start)
	metrics.ProviderCall("gemini", "edit", elapsed, err)
	if err != nil {
		log.Error().Err(err).Dur("duration", elapsed).Msg("Gemini image edit failed")
		return provider.EditResult{}, fmt.Errorf("gemini edit: %w", err)
	}

	blob, text := firstImage(resp)
	if blob == nil {
		log.Warn().Str("text", truncate(text, 200)).Msg("Gemini returned no image")
		return provider.EditResult{}, fmt.Errorf("gemini edit: %w", provider.ErrNoImage)
	}

	url, err := e.store(ctx, blob)
	if err != nil {
		return provider.EditResult{}, err
	}
	log.Info().
		Int("bytes", len(blob.Data)).
		Str("mime", blob.MIMEType).
		Dur("duration", elapsed).
		Msg("Gemini image edit complete")

	return provider.EditResult{Images: []provider.Image{{URL: url, ContentType: blob.MIMEType}}}, nil
}

func (e *Editor) store(ctx context.Context, blob *genai.Blob) (string, error) {
	if e.persister == nil {
		return "data:" + blob.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(blob.Data), nil
	}
	ext := ".png"
	switch blob.MIMEType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	}
	key := fmt.Sprintf("edits/%d%s", time.Now().UnixNano(), ext)
	url, err := e.persister.Persist(ctx, blob.Data, key, blob.MIMEType)
	if err != nil {
		return "", fmt.Errorf("gemini edit: store result: %w", err)
	}
	return url, nil
}

// firstImage returns the first inline image part and any text the model sent.
func firstImage(resp *genai.GenerateContentResponse) (*genai.Blob, string) {
	if resp == nil {
		return nil, ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 &&
				strings.HasPrefix(part.InlineData.MIMEType, "image/") {
				return part.InlineData, text.String()
			}
			text.WriteString(part.Text)
		}
	}
	return nil, text.String()
}

func imageMIME(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mt, "image/") {
		return "image/jpeg"
	}
	return mt
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
