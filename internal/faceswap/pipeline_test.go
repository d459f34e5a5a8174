package faceswap

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/fpang/storybook-faceswap/internal/provider"
	"github.com/fpang/storybook-faceswap/internal/story"
)

func TestRun_ExampleScenario(t *testing.T) {
	// Pages 3, 4, 5 need profile-right, profile-left and looking-up. The
	// looking-up portrait fails and the raw photo never composites, so page 5
	// falls back to its illustration.
	f := &fakeProvider{
		portrait: func(pose story.Pose) (provider.Image, error) {
			if pose == story.PoseLookingUp {
				return provider.Image{}, errProvider
			}
			return provider.Image{URL: portraitURL(pose)}, nil
		},
		composite: onlyPortraitFaces,
	}
	cfg := testConfig(3, 4, 5)
	cfg.Poses = []story.Pose{story.PoseProfileRight, story.PoseProfileLeft, story.PoseLookingUp}

	rec := &recorder{}
	res, err := newTestPipeline(f).Run(context.Background(), cfg, rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.SuccessCount != 2 || res.FailedCount != 1 {
		t.Errorf("success=%d failed=%d, want 2/1", res.SuccessCount, res.FailedCount)
	}
	if res.Methods[MethodEaselStylized] != 2 || res.Methods[MethodOriginal] != 1 {
		t.Errorf("Methods = %v", res.Methods)
	}
	page5 := res.Results[2]
	if page5.PageNumber != 5 || page5.Success || page5.Method != MethodOriginal {
		t.Errorf("page 5 = %+v", page5)
	}
	if page5.ImageURL != testBaseURL+"/illustrations/page-05.jpg" {
		t.Errorf("page 5 image = %q", page5.ImageURL)
	}
	if len(res.FailedPoses) != 1 || res.FailedPoses[0] != story.PoseLookingUp {
		t.Errorf("FailedPoses = %v", res.FailedPoses)
	}
}

func TestRun_EventOrder(t *testing.T) {
	f := &fakeProvider{}
	cfg := testConfig(1, 2, 3)
	cfg.Poses = []story.Pose{story.PoseLookingDownClose, story.PoseProfileRight}

	rec := &recorder{}
	if _, err := newTestPipeline(f).Run(context.Background(), cfg, rec); err != nil {
		t.Fatal(err)
	}

	got := rec.types()
	want := []EventType{
		EventStart,
		EventPortraitsStart, EventPortraitComplete, EventPortraitComplete, EventPortraitsComplete,
		EventPageStart, EventImage, // page 2, no child
		EventPageStart, EventPageStart, // batch 1 dispatch
		EventImage, EventImage,
		EventComplete,
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}

	complete, ok := rec.last().(CompleteEvent)
	if !ok {
		t.Fatalf("last event is %T", rec.last())
	}
	if complete.TotalPages != 3 || complete.SuccessCount != 3 {
		t.Errorf("complete = %+v", complete)
	}
}

func TestRun_ResultsSortedByPageNumber(t *testing.T) {
	// Earlier pages take longer so they resolve last.
	f := &fakeProvider{
		composite: func(req provider.CompositeRequest) (provider.Image, error) {
			switch req.TargetImageURL {
			case testBaseURL + "/illustrations/page-01.jpg":
				time.Sleep(30 * time.Millisecond)
			case testBaseURL + "/illustrations/page-03.jpg":
				time.Sleep(15 * time.Millisecond)
			}
			return provider.Image{URL: "https://out.example.com/x.png"}, nil
		},
	}
	cfg := testConfig(4, 3, 1, 2)
	cfg.Concurrency = 5

	res, err := newTestPipeline(f).Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	var nums []int
	for _, r := range res.Results {
		nums = append(nums, r.PageNumber)
	}
	if !sort.IntsAreSorted(nums) || len(nums) != 4 {
		t.Errorf("result order = %v", nums)
	}
}

func TestRun_BatchBoundsConcurrency(t *testing.T) {
	f := &fakeProvider{
		composite: func(provider.CompositeRequest) (provider.Image, error) {
			time.Sleep(10 * time.Millisecond)
			return provider.Image{URL: "https://out.example.com/x.png"}, nil
		},
	}
	cfg := testConfig()
	cfg.Concurrency = 2

	rec := &recorder{}
	res, err := newTestPipeline(f).Run(context.Background(), cfg, rec)
	if err != nil {
		t.Fatal(err)
	}
	if f.maxInFlight > 2 {
		t.Errorf("max in-flight composites = %d, want <= 2", f.maxInFlight)
	}
	if len(res.Results) != len(story.PagesNeedingFaceSwap()) {
		t.Errorf("got %d results", len(res.Results))
	}

	// Every page_start of batch N+1 comes after every image of batch N.
	batchOf := make(map[int]int)
	started := make(map[int]int)
	finished := make(map[int]int)
	for _, e := range rec.events {
		switch ev := e.(type) {
		case PageStartEvent:
			batchOf[ev.PageNumber] = ev.Batch
			started[ev.Batch]++
			if prev := ev.Batch - 1; prev >= 1 && finished[prev] != started[prev] {
				t.Errorf("page %d of batch %d started before batch %d finished", ev.PageNumber, ev.Batch, prev)
			}
		case ImageEvent:
			finished[batchOf[ev.PageNumber]]++
		}
	}
}

func TestRun_HistogramAlwaysComplete(t *testing.T) {
	res, err := newTestPipeline(&fakeProvider{}).Run(context.Background(), testConfig(2), nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range AllMethods {
		if _, ok := res.Methods[m]; !ok {
			t.Errorf("method %s missing from breakdown", m)
		}
	}
	if res.Methods[MethodOriginal] != 1 || res.SuccessCount != 1 {
		t.Errorf("no-child page: %+v", res)
	}
}

func TestRun_NoChildPagesSkipPortraits(t *testing.T) {
	f := &fakeProvider{}
	rec := &recorder{}
	if _, err := newTestPipeline(f).Run(context.Background(), testConfig(2, 7), rec); err != nil {
		t.Fatal(err)
	}
	if len(f.portraitPoses) != 0 {
		t.Errorf("portraits generated for pages without a child: %v", f.portraitPoses)
	}
}

func TestRun_InvalidConfigEmitsError(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(99)
	_, err := newTestPipeline(&fakeProvider{}).Run(context.Background(), cfg, rec)
	if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, story.ErrUnknownPage) {
		t.Fatalf("err = %v", err)
	}
	if types := rec.types(); len(types) != 1 || types[0] != EventError {
		t.Errorf("events = %v", types)
	}
}

func TestRun_CancellationStopsFutureBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeProvider{}
	f.composite = func(provider.CompositeRequest) (provider.Image, error) {
		cancel()
		time.Sleep(5 * time.Millisecond)
		return provider.Image{URL: "https://out.example.com/x.png"}, nil
	}
	cfg := testConfig()
	cfg.Concurrency = 2

	rec := &recorder{}
	res, err := newTestPipeline(f).Run(ctx, cfg, rec)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil || len(res.Results) != 2 {
		t.Fatalf("expected the in-flight batch of 2 to finish, got %+v", res)
	}
	for _, r := range res.Results {
		if !r.Success {
			t.Errorf("in-flight page %d was aborted: %+v", r.PageNumber, r)
		}
	}
	if rec.last().Type() != EventError {
		t.Errorf("last event = %s, want error", rec.last().Type())
	}
}

func TestRun_PanicIsFatal(t *testing.T) {
	f := &fakeProvider{
		edit: func(provider.EditRequest) (provider.EditResult, error) { panic("bad edit") },
		composite: func(provider.CompositeRequest) (provider.Image, error) {
			return provider.Image{}, errProvider
		},
	}
	cfg := testConfig(5)
	cfg.EnableFallback = true
	cfg.EnableNanoBanana = true

	rec := &recorder{}
	_, err := newTestPipeline(f).Run(context.Background(), cfg, rec)
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if rec.last().Type() != EventError {
		t.Errorf("last event = %s", rec.last().Type())
	}
}

func TestProcessPage_GeneratesOnlyNeededPose(t *testing.T) {
	f := &fakeProvider{}
	r, err := newTestPipeline(f).ProcessPage(context.Background(), testConfig(), 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.portraitPoses) != 1 || f.portraitPoses[0] != story.PoseThreeQuarter {
		t.Errorf("portrait poses = %v", f.portraitPoses)
	}
	if !r.Success || r.Method != MethodEaselStylized || r.PageNumber != 6 {
		t.Errorf("result = %+v", r)
	}
	if r.LocalizedText == "" {
		t.Error("missing localized text")
	}
}

func TestProcessPage_UnknownPage(t *testing.T) {
	_, err := newTestPipeline(&fakeProvider{}).ProcessPage(context.Background(), testConfig(), 42)
	if !errors.Is(err, story.ErrUnknownPage) {
		t.Errorf("err = %v", err)
	}
}

type failingBridge struct{}

func (failingBridge) Bridge(context.Context, string) (string, error) {
	return "", errors.New("bucket unreachable")
}

func TestRun_BridgeFailureIsFatal(t *testing.T) {
	f := &fakeProvider{}
	p := New(Deps{Stylizer: f, Compositor: f, Bridge: failingBridge{}, CompositorOptions: fastOptions()})
	rec := &recorder{}
	if _, err := p.Run(context.Background(), testConfig(1), rec); err == nil {
		t.Fatal("expected error")
	}
	if rec.last().Type() != EventError {
		t.Errorf("last event = %s", rec.last().Type())
	}
}

type stubPreparer struct{ err error }

func (s stubPreparer) PrepareSourcePhoto(_ context.Context, photoURL, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://prepared.example.com/child.jpg", nil
}

func TestRun_UsesPreparedPhoto(t *testing.T) {
	var faces []string
	f := &fakeProvider{}
	f.composite = func(req provider.CompositeRequest) (provider.Image, error) {
		faces = append(faces, req.FaceImageURL)
		return provider.Image{URL: "https://out.example.com/x.png"}, nil
	}
	f.portrait = func(story.Pose) (provider.Image, error) { return provider.Image{}, errProvider }
	p := New(Deps{Stylizer: f, Compositor: f, Preparer: stubPreparer{}, CompositorOptions: fastOptions()})
	if _, err := p.Run(context.Background(), testConfig(1), nil); err != nil {
		t.Fatal(err)
	}
	if len(faces) != 1 || faces[0] != "https://prepared.example.com/child.jpg" {
		t.Errorf("faces = %v", faces)
	}

	faces = nil
	p = New(Deps{Stylizer: f, Compositor: f, Preparer: stubPreparer{err: errors.New("decode")}, CompositorOptions: fastOptions()})
	if _, err := p.Run(context.Background(), testConfig(1), nil); err != nil {
		t.Fatal(err)
	}
	if len(faces) != 1 || faces[0] != testPhotoURL {
		t.Errorf("preparation failure should fall back to the original photo, faces = %v", faces)
	}
}
