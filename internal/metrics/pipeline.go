package metrics

import "time"

// RunSummary is the per-run data reported after a personalization run.
type RunSummary struct {
	RunID        string
	Outcome      string
	Pages        int
	Succeeded    int
	Failed       int
	FailedPoses  int
	PortraitTime time.Duration
	PageTime     time.Duration
	TotalTime    time.Duration
	MethodCounts map[string]int
}

// PipelineRun emits one document for a finished run.
func PipelineRun(s RunSummary) {
	r := New(Namespace).
		Dimension("Operation", "personalize").
		Dimension("Outcome", s.Outcome).
		Metric("PagesProcessed", float64(s.Pages), UnitCount).
		Metric("PagesSucceeded", float64(s.Succeeded), UnitCount).
		Metric("PagesFailed", float64(s.Failed), UnitCount).
		Metric("PortraitFailures", float64(s.FailedPoses), UnitCount).
		Duration("PortraitStageMs", s.PortraitTime).
		Duration("PageStageMs", s.PageTime).
		Duration("RunDurationMs", s.TotalTime).
		Property("runId", s.RunID)
	for method, n := range s.MethodCounts {
		r.Metric("Method_"+method, float64(n), UnitCount)
	}
	r.Flush()
}

// ProviderCall emits latency and outcome for one external model call.
func ProviderCall(provider, capability string, elapsed time.Duration, err error) {
	r := New(Namespace).
		Dimension("Provider", provider).
		Dimension("Capability", capability).
		Duration("ProviderLatencyMs", elapsed).
		Count("ProviderCalls")
	if err != nil {
		r.Count("ProviderErrors")
	}
	r.Flush()
}
