// Package service is the application layer between the HTTP/CLI surfaces
// and the personalization pipeline. It assigns run IDs, applies server-side
// defaults, and records every run (store, metrics, notifications) once it
// ends.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
	"github.com/fpang/storybook-faceswap/internal/jobs"
	"github.com/fpang/storybook-faceswap/internal/metrics"
	"github.com/fpang/storybook-faceswap/internal/notify"
	"github.com/fpang/storybook-faceswap/internal/store"
	"github.com/fpang/storybook-faceswap/internal/story"
)

var (
	// ErrRunNotFound is returned by GetRun for unknown IDs.
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidRequest wraps request validation failures that happen
	// before the pipeline is invoked.
	ErrInvalidRequest = errors.New("invalid request")
)

// Pipeline is the subset of *faceswap.Pipeline the service drives.
type Pipeline interface {
	Run(ctx context.Context, cfg faceswap.Config, sink faceswap.EventSink) (*faceswap.Result, error)
	ProcessPage(ctx context.Context, cfg faceswap.Config, pageNumber int) (faceswap.PageResult, error)
}

// Request is the body of a personalization request.
type Request struct {
	ChildName        string `json:"childName"`
	Gender           string `json:"gender"`
	PhotoURL         string `json:"photoUrl"`
	PageNumbers      []int  `json:"pageNumbers,omitempty"`
	Concurrency      int    `json:"concurrency,omitempty"`
	EnableFallback   *bool  `json:"enableFallback,omitempty"`
	EnableNanoBanana *bool  `json:"enableNanoBanana,omitempty"`
	EnableBasicSwap  *bool  `json:"enableBasicSwap,omitempty"`
	RestrictPoses    bool   `json:"restrictPoses,omitempty"`
}

// PageRequest asks for one page to be regenerated.
type PageRequest struct {
	Request
	PageNumber int `json:"pageNumber"`
}

// PageResponse is the result of a single-page request.
type PageResponse struct {
	RunID         string          `json:"runId"`
	PageNumber    int             `json:"pageNumber"`
	Success       bool            `json:"success"`
	ImageURL      string          `json:"imageUrl"`
	LocalizedText string          `json:"localizedText"`
	Method        faceswap.Method `json:"method"`
	Error         string          `json:"error,omitempty"`
}

// Options are the server-side defaults applied to requests.
type Options struct {
	IllustrationBaseURL string
	Concurrency         int
	EnableFallback      bool
}

// Service runs and records personalization requests.
type Service struct {
	pipeline Pipeline
	runs     store.RunStore
	notifier notify.Notifier
	opts     Options
}

// New creates a Service. A nil store keeps runs in memory; a nil notifier
// drops events.
func New(pipeline Pipeline, runs store.RunStore, notifier notify.Notifier, opts Options) *Service {
	if runs == nil {
		runs = store.NewMemoryStore(store.DefaultTTL)
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{pipeline: pipeline, runs: runs, notifier: notifier, opts: opts}
}

// Personalize runs the full pipeline for req and streams events to sink.
// Request errors are reported through sink as an error event as well as
// returned.
func (s *Service) Personalize(ctx context.Context, req Request, sink faceswap.EventSink) (*faceswap.Result, error) {
	if sink == nil {
		sink = faceswap.Discard
	}
	runID := jobs.NewRunID()
	cfg, err := s.config(req, runID)
	if err != nil {
		sink.Emit(faceswap.ErrorEvent{Message: err.Error()})
		return nil, err
	}

	run := s.newRun(runID, store.KindStream, req, cfg)
	s.save(ctx, run)

	res, err := s.pipeline.Run(ctx, cfg, sink)
	run.FromResult(res)
	run.Finish(statusFor(ctx, err), err)
	s.record(ctx, run)
	return res, err
}

// RetryPage regenerates a single page synchronously.
func (s *Service) RetryPage(ctx context.Context, req PageRequest) (PageResponse, error) {
	runID := jobs.NewRunID()
	cfg, err := s.config(req.Request, runID)
	if err != nil {
		return PageResponse{}, err
	}
	if _, ok := story.PageByNumber(req.PageNumber); !ok {
		return PageResponse{}, fmt.Errorf("%w: page %d: %w", ErrInvalidRequest, req.PageNumber, story.ErrUnknownPage)
	}
	cfg.PageNumbers = []int{req.PageNumber}

	run := s.newRun(runID, store.KindPage, req.Request, cfg)
	methods := faceswap.NewMethodBreakdown()
	run.SetMethods(methods)
	start := time.Now()
	pr, err := s.pipeline.ProcessPage(ctx, cfg, req.PageNumber)
	if err != nil {
		run.Finish(statusFor(ctx, err), err)
		run.TotalTimeMs = time.Since(start).Milliseconds()
		s.record(ctx, run)
		return PageResponse{}, err
	}

	run.Results = []faceswap.PageResult{pr}
	run.TotalTimeMs = time.Since(start).Milliseconds()
	run.PageTimeMs = pr.ProcessingTimeMs
	methods[pr.Method]++
	run.SetMethods(methods)
	if pr.Success {
		run.SuccessCount = 1
	} else {
		run.FailedCount = 1
	}
	run.Finish(store.StatusComplete, nil)
	s.record(ctx, run)

	return PageResponse{
		RunID:         runID,
		PageNumber:    pr.PageNumber,
		Success:       pr.Success,
		ImageURL:      pr.ImageURL,
		LocalizedText: pr.LocalizedText,
		Method:        pr.Method,
		Error:         pr.Error,
	}, nil
}

// GetRun loads a stored run.
func (s *Service) GetRun(ctx context.Context, rawID string) (*store.Run, error) {
	id, err := jobs.ParseRunID(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// config turns a request into a pipeline config. Pipeline-level validation
// (name, photo, page numbers) is left to the pipeline so that it surfaces
// as an error event.
func (s *Service) config(req Request, runID string) (faceswap.Config, error) {
	gender, err := story.ParseGender(req.Gender)
	if err != nil {
		return faceswap.Config{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = s.opts.Concurrency
	}
	fallback := s.opts.EnableFallback
	if req.EnableFallback != nil {
		fallback = *req.EnableFallback
	}
	cfg := faceswap.Config{
		RunID:               runID,
		SourcePhotoURL:      req.PhotoURL,
		ChildName:           req.ChildName,
		Gender:              gender,
		IllustrationBaseURL: s.opts.IllustrationBaseURL,
		Concurrency:         concurrency,
		EnableFallback:      fallback,
		EnableNanoBanana:    boolOr(req.EnableNanoBanana, true),
		EnableBasicSwap:     boolOr(req.EnableBasicSwap, true),
		PageNumbers:         req.PageNumbers,
	}
	if req.RestrictPoses {
		pages := req.PageNumbers
		if len(pages) == 0 {
			pages = story.PagesNeedingFaceSwap()
		}
		cfg.Poses = story.PosesFor(pages)
	}
	return cfg, nil
}

func (s *Service) newRun(id string, kind store.Kind, req Request, cfg faceswap.Config) *store.Run {
	return &store.Run{
		ID:             id,
		Kind:           kind,
		Status:         store.StatusRunning,
		ChildName:      req.ChildName,
		Gender:         string(cfg.Gender),
		PageNumbers:    cfg.PageNumbers,
		Concurrency:    cfg.Concurrency,
		EnableFallback: cfg.EnableFallback,
		CreatedAt:      time.Now().Unix(),
	}
}

// record stores the finished run, emits metrics and publishes the
// completion event. Failures are logged; they never fail the request.
func (s *Service) record(ctx context.Context, run *store.Run) {
	ctx = context.WithoutCancel(ctx)
	s.save(ctx, run)

	metrics.PipelineRun(metrics.RunSummary{
		RunID:        run.ID,
		Outcome:      string(run.Status),
		Pages:        len(run.Results),
		Succeeded:    run.SuccessCount,
		Failed:       run.FailedCount,
		FailedPoses:  len(run.FailedPoses),
		PortraitTime: time.Duration(run.PortraitTimeMs) * time.Millisecond,
		PageTime:     time.Duration(run.PageTimeMs) * time.Millisecond,
		TotalTime:    time.Duration(run.TotalTimeMs) * time.Millisecond,
		MethodCounts: run.Methods,
	})

	err := s.notifier.RunCompleted(ctx, notify.RunCompleted{
		RunID:        run.ID,
		Kind:         string(run.Kind),
		Status:       string(run.Status),
		ChildName:    run.ChildName,
		TotalPages:   len(run.Results),
		SuccessCount: run.SuccessCount,
		FailedCount:  run.FailedCount,
		TotalTimeMs:  run.TotalTimeMs,
		Methods:      run.Methods,
		Error:        run.Error,
	})
	if err != nil {
		log.Warn().Err(err).Str("runId", run.ID).Msg("Failed to publish run completion")
	}
}

func (s *Service) save(ctx context.Context, run *store.Run) {
	if err := s.runs.PutRun(ctx, run); err != nil {
		log.Warn().Err(err).Str("runId", run.ID).Str("status", string(run.Status)).Msg("Failed to store run record")
	}
}

func statusFor(ctx context.Context, err error) store.Status {
	switch {
	case err == nil:
		return store.StatusComplete
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return store.StatusCancelled
	default:
		return store.StatusError
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
