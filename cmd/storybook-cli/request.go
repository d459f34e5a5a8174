package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ncruces/zenity"

	"github.com/fpang/storybook-faceswap/internal/service"
)

// maxLocalPhotoBytes bounds a photo read from disk.
const maxLocalPhotoBytes = 20 << 20

var errPickCanceled = errors.New("photo selection canceled")

// buildRequest turns the request flags into a personalization request.
func buildRequest(ctx context.Context) (service.Request, error) {
	photo, err := resolvePhoto(ctx)
	if err != nil {
		return service.Request{}, err
	}
	req := service.Request{
		ChildName:   nameFlag,
		Gender:      genderFlag,
		PhotoURL:    photo,
		PageNumbers: pagesFlag,
		Concurrency: concurrencyFlag,
	}
	if noFallbackFlag {
		req.EnableFallback = ptr(false)
	}
	if noNanoFlag {
		req.EnableNanoBanana = ptr(false)
	}
	if noSwapFlag {
		req.EnableBasicSwap = ptr(false)
	}
	return req, nil
}

// resolvePhoto returns a URL for the source photo. Local files are inlined as
// data: URLs; the storage bridge uploads them when a bucket is configured.
func resolvePhoto(ctx context.Context) (string, error) {
	path := photoFlag
	if pickFlag {
		picked, err := pickPhoto(ctx)
		if err != nil {
			return "", err
		}
		path = picked
	}
	if path == "" {
		return "", errors.New("a photo is required: use --photo or --pick")
	}
	if u, err := url.Parse(path); err == nil {
		switch u.Scheme {
		case "http", "https", "data":
			return path, nil
		}
	}
	return localPhotoURL(path)
}

func pickPhoto(ctx context.Context) (string, error) {
	path, err := zenity.SelectFile(
		zenity.Context(ctx),
		zenity.Title("Select the child's photo"),
		zenity.FileFilters{
			{Name: "Images", Patterns: []string{"*.jpg", "*.jpeg", "*.png", "*.webp", "*.heic"}, CaseFold: true},
		},
	)
	if errors.Is(err, zenity.ErrCanceled) {
		return "", errPickCanceled
	}
	if err != nil {
		return "", fmt.Errorf("file dialog: %w", err)
	}
	return path, nil
}

// localPhotoURL reads an image file into a data: URL.
func localPhotoURL(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read photo: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("read photo: %s is a directory", path)
	}
	if info.Size() > maxLocalPhotoBytes {
		return "", fmt.Errorf("read photo: %s is larger than %d MB", path, maxLocalPhotoBytes>>20)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read photo: %w", err)
	}
	contentType := http.DetectContentType(data)
	if len(contentType) < 6 || contentType[:6] != "image/" {
		return "", fmt.Errorf("read photo: %s is %s, not an image", path, contentType)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func ptr[T any](v T) *T { return &v }
