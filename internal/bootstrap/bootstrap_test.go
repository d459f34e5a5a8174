package bootstrap

import (
	"context"
	"strings"
	"testing"

	"github.com/fpang/storybook-faceswap/internal/config"
	"github.com/fpang/storybook-faceswap/internal/story"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("STORYBOOK_PUBLIC_BASE_URL", "https://books.example.com")
	t.Setenv("FAL_KEY", "test-key")
	t.Setenv("STORYBOOK_BUCKET", "")
	t.Setenv("STORYBOOK_RUN_TABLE", "")
	t.Setenv("STORYBOOK_EVENT_BUS", "")
	t.Setenv("STORYBOOK_EDIT_PROVIDER", "")
	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestNeedsAWS(t *testing.T) {
	cfg := localConfig(t)
	if needsAWS(cfg) {
		t.Error("local config with a fal key should not need AWS")
	}
	cfg.RunTable = "runs"
	if !needsAWS(cfg) {
		t.Error("run table needs AWS")
	}
	cfg.RunTable, cfg.FalKey = "", ""
	if !needsAWS(cfg) {
		t.Error("missing fal key must be fetched from SSM")
	}
}

func TestBuild_Local(t *testing.T) {
	app, err := Build(context.Background(), "test", localConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if app.Service == nil || app.Pipeline == nil {
		t.Error("service and pipeline should be built")
	}
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := localConfig(t)
	cfg.Concurrency = 0
	if _, err := Build(context.Background(), "test", cfg); err == nil {
		t.Error("expected validation error")
	}
}

func TestBuild_RejectsBrokenPageTable(t *testing.T) {
	broken := []story.Page{
		{Number: 1, Illustration: "illustrations/page-01.jpg", HasChild: true, Scene: "a child on a swing"},
	}
	orig := checkBook
	checkBook = func() error { return story.ValidatePages(broken) }
	t.Cleanup(func() { checkBook = orig })

	_, err := Build(context.Background(), "test", localConfig(t))
	if err == nil {
		t.Fatal("expected Build to reject a child page without a pose")
	}
	if !strings.Contains(err.Error(), "page table") || !strings.Contains(err.Error(), "page 1") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuild_ChecksShippedPageTable(t *testing.T) {
	if err := checkBook(); err != nil {
		t.Fatalf("shipped page table is invalid: %v", err)
	}
}
