package progress

import (
	"sort"
	"sync"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
)

// Stage is the run state seen by a client.
type Stage string

const (
	StageIdle                Stage = "idle"
	StagePortraitsGenerating Stage = "portraits_generating"
	StagePagesProcessing     Stage = "pages_processing"
	StageComplete            Stage = "complete"
	StageError               Stage = "error"
)

// State is a snapshot of everything a client knows about a run.
type State struct {
	Stage           Stage
	RunID           string
	TotalPages      int
	TotalPoses      int
	PortraitsDone   int
	PortraitsFailed int
	Pages           map[int]faceswap.PageResult
	InFlight        map[int]bool
	SuccessCount    int
	FailedCount     int
	Methods         faceswap.MethodBreakdown
	Error           string
}

// Progress is resolved pages over total pages, in percent.
func (s State) Progress() float64 {
	if s.TotalPages == 0 {
		if s.Stage == StageComplete {
			return 100
		}
		return 0
	}
	p := float64(len(s.Pages)) / float64(s.TotalPages) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Ordered returns the page results sorted by page number.
func (s State) Ordered() []faceswap.PageResult {
	out := make([]faceswap.PageResult, 0, len(s.Pages))
	for _, r := range s.Pages {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out
}

// Reducer folds events into State. Image events for different pages may
// arrive in any order; for the same page the later one wins. It is safe for
// concurrent use.
type Reducer struct {
	mu    sync.Mutex
	state State
}

// NewReducer returns a reducer in the idle stage.
func NewReducer() *Reducer {
	return &Reducer{state: State{
		Stage:    StageIdle,
		Pages:    make(map[int]faceswap.PageResult),
		InFlight: make(map[int]bool),
		Methods:  faceswap.NewMethodBreakdown(),
	}}
}

// Apply folds one event into the state.
func (r *Reducer) Apply(e faceswap.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &r.state

	switch ev := e.(type) {
	case faceswap.StartEvent:
		s.RunID = ev.RunID
		s.TotalPages = ev.TotalPages
	case faceswap.PortraitsStartEvent:
		s.Stage = StagePortraitsGenerating
		s.TotalPoses = ev.TotalPoses
	case faceswap.PortraitCompleteEvent:
		if ev.Completed > s.PortraitsDone {
			s.PortraitsDone = ev.Completed
		}
		if !ev.Success {
			s.PortraitsFailed++
		}
	case faceswap.PortraitsCompleteEvent:
		s.Stage = StagePagesProcessing
		s.PortraitsDone = ev.SuccessCount + ev.FailedCount
		s.PortraitsFailed = ev.FailedCount
	case faceswap.PageStartEvent:
		s.Stage = StagePagesProcessing
		s.InFlight[ev.PageNumber] = true
	case faceswap.ImageEvent:
		r.putPage(ev.PageResult)
	case faceswap.CompleteEvent:
		for _, pr := range ev.Results {
			r.putPage(pr)
		}
		s.Stage = StageComplete
	case faceswap.ErrorEvent:
		s.Stage = StageError
		s.Error = ev.Message
	}
}

// ApplyPageResult records a result obtained outside the stream, such as a
// single-page retry. It replaces any earlier result for that page.
func (r *Reducer) ApplyPageResult(pr faceswap.PageResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putPage(pr)
}

func (r *Reducer) putPage(pr faceswap.PageResult) {
	s := &r.state
	s.Pages[pr.PageNumber] = pr
	delete(s.InFlight, pr.PageNumber)
	if len(s.Pages) > s.TotalPages {
		s.TotalPages = len(s.Pages)
	}
	s.SuccessCount, s.FailedCount = 0, 0
	s.Methods = faceswap.NewMethodBreakdown()
	for _, p := range s.Pages {
		s.Methods[p.Method]++
		if p.Success {
			s.SuccessCount++
		} else {
			s.FailedCount++
		}
	}
}

// State returns a copy of the current state.
func (r *Reducer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.state
	out.Pages = make(map[int]faceswap.PageResult, len(r.state.Pages))
	for k, v := range r.state.Pages {
		out.Pages[k] = v
	}
	out.InFlight = make(map[int]bool, len(r.state.InFlight))
	for k, v := range r.state.InFlight {
		out.InFlight[k] = v
	}
	out.Methods = make(faceswap.MethodBreakdown, len(r.state.Methods))
	for k, v := range r.state.Methods {
		out.Methods[k] = v
	}
	return out
}
