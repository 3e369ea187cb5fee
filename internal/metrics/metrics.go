package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Recorder holds the counters for a single sync run. A nil *Recorder is valid
// and discards everything.
type Recorder struct {
	registry       *prometheus.Registry
	entries        *prometheus.CounterVec
	submitAttempts *prometheus.CounterVec
	submitDuration prometheus.Histogram
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timebill_entries_total",
			Help: "Time entries by terminal state.",
		}, []string{"state"}),
		submitAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timebill_submit_attempts_total",
			Help: "Submission attempts against the invoicing service by outcome.",
		}, []string{"outcome"}),
		submitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timebill_submit_duration_seconds",
			Help:    "Latency of single submission attempts.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	r.registry.MustRegister(r.entries, r.submitAttempts, r.submitDuration)
	return r
}

func (r *Recorder) EntryState(state string) {
	if r == nil {
		return
	}
	r.entries.WithLabelValues(strings.ToLower(state)).Inc()
}

func (r *Recorder) SubmitAttempt(outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.submitAttempts.WithLabelValues(outcome).Inc()
	r.submitDuration.Observe(took.Seconds())
}

// EntryCount returns the current counter value for state.
func (r *Recorder) EntryCount(state string) float64 {
	if r == nil {
		return 0
	}
	return counterValue(r.entries.WithLabelValues(strings.ToLower(state)))
}

func (r *Recorder) AttemptCount(outcome string) float64 {
	if r == nil {
		return 0
	}
	return counterValue(r.submitAttempts.WithLabelValues(outcome))
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || strings.TrimSpace(path) == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
