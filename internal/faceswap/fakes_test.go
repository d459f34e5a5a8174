package faceswap

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fpang/storybook-faceswap/internal/provider"
	"github.com/fpang/storybook-faceswap/internal/story"
)

var errProvider = errors.New("provider unavailable")

const (
	testPhotoURL = "https://uploads.example.com/child.jpg"
	testBaseURL  = "https://static.example.com/book"
)

// fakeProvider implements every provider capability with per-test hooks.
type fakeProvider struct {
	mu sync.Mutex

	portrait  func(pose story.Pose) (provider.Image, error)
	composite func(req provider.CompositeRequest) (provider.Image, error)
	edit      func(req provider.EditRequest) (provider.EditResult, error)
	swap      func(req provider.SwapRequest) (provider.Image, error)

	portraitPoses  []story.Pose
	compositeCalls int
	editCalls      int
	swapCalls      int
	inFlight       int
	maxInFlight    int
}

func poseOf(req provider.PortraitRequest) story.Pose {
	for _, p := range story.AllPoses {
		if req.PoseDirection == story.PoseDirection(p) {
			return p
		}
	}
	return ""
}

func portraitURL(p story.Pose) string { return "https://portraits.example.com/" + string(p) + ".png" }

func (f *fakeProvider) GeneratePortrait(_ context.Context, req provider.PortraitRequest) (provider.Image, error) {
	pose := poseOf(req)
	f.mu.Lock()
	f.portraitPoses = append(f.portraitPoses, pose)
	f.mu.Unlock()
	if f.portrait != nil {
		return f.portrait(pose)
	}
	return provider.Image{URL: portraitURL(pose), Width: 768, Height: 768}, nil
}

func (f *fakeProvider) Composite(_ context.Context, req provider.CompositeRequest) (provider.Image, error) {
	f.mu.Lock()
	f.compositeCalls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if f.composite != nil {
		return f.composite(req)
	}
	return provider.Image{URL: "https://out.example.com/composite.png"}, nil
}

func (f *fakeProvider) EditWithPrompt(_ context.Context, req provider.EditRequest) (provider.EditResult, error) {
	f.mu.Lock()
	f.editCalls++
	f.mu.Unlock()
	if f.edit != nil {
		return f.edit(req)
	}
	return provider.EditResult{Images: []provider.Image{{URL: "https://out.example.com/edit.png"}}}, nil
}

func (f *fakeProvider) BasicSwap(_ context.Context, req provider.SwapRequest) (provider.Image, error) {
	f.mu.Lock()
	f.swapCalls++
	f.mu.Unlock()
	if f.swap != nil {
		return f.swap(req)
	}
	return provider.Image{URL: "https://out.example.com/swap.png"}, nil
}

// onlyPortraitFaces composites successfully only when the face is a portrait,
// so tier 2 (raw photo) always fails.
func onlyPortraitFaces(req provider.CompositeRequest) (provider.Image, error) {
	if strings.HasPrefix(req.FaceImageURL, "https://portraits.example.com/") {
		return provider.Image{URL: "https://out.example.com/" + strings.TrimPrefix(req.FaceImageURL, "https://portraits.example.com/")}, nil
	}
	return provider.Image{}, errProvider
}

func fastOptions() CompositorOptions {
	return CompositorOptions{Timeout: time.Second, MaxRetries: 2, BaseDelay: time.Millisecond}
}

func newTestPipeline(f *fakeProvider) *Pipeline {
	return New(Deps{
		Stylizer:          f,
		Compositor:        f,
		Editor:            f,
		Swapper:           f,
		CompositorOptions: fastOptions(),
	})
}

func testConfig(pages ...int) Config {
	return Config{
		RunID:               "run-test",
		SourcePhotoURL:      testPhotoURL,
		ChildName:           "Ava",
		Gender:              story.GenderGirl,
		IllustrationBaseURL: testBaseURL,
		PageNumbers:         pages,
	}
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}
