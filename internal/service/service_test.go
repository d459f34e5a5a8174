package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
	"github.com/fpang/storybook-faceswap/internal/metrics"
	"github.com/fpang/storybook-faceswap/internal/notify"
	"github.com/fpang/storybook-faceswap/internal/store"
	"github.com/fpang/storybook-faceswap/internal/story"
)

func init() {
	metrics.SetEnabled(false)
}

type fakePipeline struct {
	mu      sync.Mutex
	cfg     faceswap.Config
	page    int
	result  *faceswap.Result
	pageRes faceswap.PageResult
	err     error
}

func (f *fakePipeline) Run(_ context.Context, cfg faceswap.Config, sink faceswap.EventSink) (*faceswap.Result, error) {
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
	sink.Emit(faceswap.StartEvent{RunID: cfg.RunID})
	if f.err != nil {
		sink.Emit(faceswap.ErrorEvent{Message: f.err.Error()})
	}
	return f.result, f.err
}

func (f *fakePipeline) ProcessPage(_ context.Context, cfg faceswap.Config, page int) (faceswap.PageResult, error) {
	f.cfg, f.page = cfg, page
	return f.pageRes, f.err
}

type recordingNotifier struct {
	events []notify.RunCompleted
}

func (n *recordingNotifier) RunCompleted(_ context.Context, e notify.RunCompleted) error {
	n.events = append(n.events, e)
	return nil
}

func boolPtr(b bool) *bool { return &b }

func newTestService(p Pipeline) (*Service, *store.MemoryStore, *recordingNotifier) {
	runs := store.NewMemoryStore(store.DefaultTTL)
	n := &recordingNotifier{}
	return New(p, runs, n, Options{
		IllustrationBaseURL: "https://books.example.com",
		Concurrency:         4,
		EnableFallback:      true,
	}), runs, n
}

func okResult() *faceswap.Result {
	return &faceswap.Result{
		Results: []faceswap.PageResult{
			{PageNumber: 1, Success: true, Method: faceswap.MethodEaselStylized},
			{PageNumber: 3, Success: false, Method: faceswap.MethodOriginal},
		},
		SuccessCount: 1,
		FailedCount:  1,
		Methods:      faceswap.MethodBreakdown{faceswap.MethodEaselStylized: 1, faceswap.MethodOriginal: 1},
	}
}

func TestService_PersonalizeAppliesDefaults(t *testing.T) {
	p := &fakePipeline{result: okResult()}
	svc, runs, n := newTestService(p)

	var events []faceswap.Event
	_, err := svc.Personalize(context.Background(), Request{
		ChildName:       "Mia",
		Gender:          "girl",
		PhotoURL:        "https://cdn.example.com/mia.jpg",
		EnableBasicSwap: boolPtr(false),
	}, faceswap.EventSinkFunc(func(e faceswap.Event) { events = append(events, e) }))
	if err != nil {
		t.Fatal(err)
	}

	cfg := p.cfg
	if cfg.Concurrency != 4 || !cfg.EnableFallback || !cfg.EnableNanoBanana || cfg.EnableBasicSwap {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Gender != story.GenderGirl || cfg.IllustrationBaseURL != "https://books.example.com" {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.Poses) != 0 {
		t.Errorf("streaming runs should keep the full pose set, got %v", cfg.Poses)
	}
	if len(events) != 1 {
		t.Errorf("events = %v", events)
	}

	run, err := runs.GetRun(context.Background(), cfg.RunID)
	if err != nil || run == nil {
		t.Fatalf("run not stored: %v", err)
	}
	if run.Status != store.StatusComplete || run.SuccessCount != 1 || len(run.Results) != 2 {
		t.Errorf("stored run = %+v", run)
	}
	if len(n.events) != 1 || n.events[0].RunID != cfg.RunID || n.events[0].Status != "complete" {
		t.Errorf("notifications = %+v", n.events)
	}
}

func TestService_PersonalizeRestrictPoses(t *testing.T) {
	p := &fakePipeline{result: okResult()}
	svc, _, _ := newTestService(p)

	_, err := svc.Personalize(context.Background(), Request{
		ChildName: "Mia", PhotoURL: "https://cdn.example.com/mia.jpg",
		PageNumbers: []int{1, 10}, RestrictPoses: true,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.cfg.Poses) != 1 || p.cfg.Poses[0] != story.PoseLookingDownClose {
		t.Errorf("poses = %v", p.cfg.Poses)
	}
}

func TestService_PersonalizeBadGender(t *testing.T) {
	p := &fakePipeline{}
	svc, _, n := newTestService(p)

	var got []faceswap.Event
	_, err := svc.Personalize(context.Background(), Request{ChildName: "Mia", Gender: "dragon"},
		faceswap.EventSinkFunc(func(e faceswap.Event) { got = append(got, e) }))
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if len(got) != 1 || got[0].Type() != faceswap.EventError {
		t.Errorf("expected a single error event, got %v", got)
	}
	if p.cfg.RunID != "" || len(n.events) != 0 {
		t.Error("pipeline should not run for an invalid request")
	}
}

func TestService_PersonalizeRecordsFailure(t *testing.T) {
	p := &fakePipeline{err: errors.New("bridge failed")}
	svc, runs, _ := newTestService(p)

	_, err := svc.Personalize(context.Background(), Request{ChildName: "Mia", PhotoURL: "x"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	run, _ := runs.GetRun(context.Background(), p.cfg.RunID)
	if run.Status != store.StatusError || run.Error != "bridge failed" {
		t.Errorf("stored run = %+v", run)
	}
}

func TestService_PersonalizeCancelled(t *testing.T) {
	p := &fakePipeline{err: context.Canceled}
	svc, runs, _ := newTestService(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Personalize(ctx, Request{ChildName: "Mia", PhotoURL: "x"}, nil)

	run, _ := runs.GetRun(context.Background(), p.cfg.RunID)
	if run == nil || run.Status != store.StatusCancelled {
		t.Errorf("stored run = %+v", run)
	}
}

func TestService_RetryPage(t *testing.T) {
	p := &fakePipeline{pageRes: faceswap.PageResult{
		PageNumber: 5, Success: true, ImageURL: "https://cdn.example.com/5.png",
		LocalizedText: "Mia looked up.", Method: faceswap.MethodNanoBanana, ProcessingTimeMs: 900,
	}}
	svc, runs, _ := newTestService(p)

	resp, err := svc.RetryPage(context.Background(), PageRequest{
		Request:    Request{ChildName: "Mia", PhotoURL: "https://cdn.example.com/mia.jpg"},
		PageNumber: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.page != 5 || len(p.cfg.PageNumbers) != 1 || p.cfg.PageNumbers[0] != 5 {
		t.Errorf("pipeline called with page=%d cfg=%+v", p.page, p.cfg)
	}
	if !resp.Success || resp.Method != faceswap.MethodNanoBanana || resp.LocalizedText != "Mia looked up." {
		t.Errorf("resp = %+v", resp)
	}
	run, _ := runs.GetRun(context.Background(), resp.RunID)
	if run == nil || run.Kind != store.KindPage || run.Methods["nano-banana"] != 1 {
		t.Fatalf("stored run = %+v", run)
	}
	for _, m := range faceswap.AllMethods {
		if _, ok := run.Methods[string(m)]; !ok {
			t.Errorf("stored histogram is missing %s: %v", m, run.Methods)
		}
	}
}

func TestService_RetryPageUnknownPage(t *testing.T) {
	svc, _, _ := newTestService(&fakePipeline{})
	_, err := svc.RetryPage(context.Background(), PageRequest{
		Request:    Request{ChildName: "Mia", PhotoURL: "x"},
		PageNumber: 99,
	})
	if !errors.Is(err, story.ErrUnknownPage) || !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected unknown page error, got %v", err)
	}
}

func TestService_GetRun(t *testing.T) {
	p := &fakePipeline{result: okResult()}
	svc, _, _ := newTestService(p)
	svc.Personalize(context.Background(), Request{ChildName: "Mia", PhotoURL: "x"}, nil)

	run, err := svc.GetRun(context.Background(), p.cfg.RunID)
	if err != nil || run.ID != p.cfg.RunID {
		t.Errorf("GetRun = %+v, %v", run, err)
	}
	if _, err := svc.GetRun(context.Background(), "run-6ba7b810-9dad-11d1-80b4-00c04fd430c8"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := svc.GetRun(context.Background(), "not-a-run"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}
