package observers

import (
	"log/slog"
	"sync"

	"github.com/harunnryd/kata/pkg/metrics"
)

// LatencyObserver aggregates the engine's timing events into per-name
// summaries. One instance typically lives for the whole process; Summarize
// at shutdown gives the operator a single latency report per run.
type LatencyObserver struct {
	mu    sync.Mutex
	stats map[string]*stat
	log   *slog.Logger
}

type stat struct {
	count int64
	total float64
	max   float64
}

// Summary is an aggregated view of one event name.
type Summary struct {
	Name  string
	Count int64
	Avg   float64
	Max   float64
}

var timingEvents = map[string]struct{}{
	metrics.EventTimeToFirstAudio:  {},
	metrics.EventRecordingDuration: {},
	metrics.EventDispatchLatency:   {},
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		stats: make(map[string]*stat),
		log:   log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.Event) {
	if _, ok := timingEvents[ev.Name]; !ok {
		return
	}
	o.mu.Lock()
	s := o.stats[ev.Name]
	if s == nil {
		s = &stat{}
		o.stats[ev.Name] = s
	}
	s.count++
	s.total += ev.Value
	if ev.Value > s.max {
		s.max = ev.Value
	}
	o.mu.Unlock()
}

// Snapshot returns the current aggregates.
func (o *LatencyObserver) Snapshot() []Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Summary, 0, len(o.stats))
	for name, s := range o.stats {
		out = append(out, Summary{
			Name:  name,
			Count: s.count,
			Avg:   s.total / float64(s.count),
			Max:   s.max,
		})
	}
	return out
}

// Summarize logs one line per tracked event name.
func (o *LatencyObserver) Summarize() {
	for _, s := range o.Snapshot() {
		o.log.Info("latency summary",
			slog.String("event", s.Name),
			slog.Int64("count", s.Count),
			slog.Float64("avg_s", s.Avg),
			slog.Float64("max_s", s.Max))
	}
}
