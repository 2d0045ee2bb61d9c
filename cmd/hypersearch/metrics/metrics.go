// Package metrics provides Prometheus instrumentation for the search.
//
// Metrics exposed:
//   - oceanquake_trial_seconds: Histogram of trial wall-clock duration
//   - oceanquake_epoch_seconds: Histogram of training epoch duration
//   - oceanquake_trials_total: Counter of finished trials by status and reason
//   - oceanquake_last_score: Gauge of the most recent completed trial score
//   - oceanquake_best_score: Gauge of the best score so far
//   - oceanquake_trials_running: Gauge, 1 while a trial is training
//
// All metrics carry the session label.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/oceanquake/pkg/hyper"
	"github.com/HatiCode/oceanquake/pkg/models"
	"github.com/HatiCode/oceanquake/pkg/tuner"
)

// Metrics holds all Prometheus metrics for one search session. It implements
// tuner.Observer.
type Metrics struct {
	TrialSeconds  prometheus.Histogram
	EpochSeconds  prometheus.Histogram
	TrialsTotal   *prometheus.CounterVec
	LastScore     prometheus.Gauge
	BestScore     prometheus.Gauge
	TrialsRunning prometheus.Gauge

	mu   sync.Mutex
	best float64
	seen bool
}

// New creates the metrics and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, session string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"session": session}

	return &Metrics{
		TrialSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "oceanquake_trial_seconds",
			Help:        "Wall-clock duration of one trial",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 14),
		}),

		EpochSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "oceanquake_epoch_seconds",
			Help:        "Duration of one training epoch",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 14),
		}),

		TrialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "oceanquake_trials_total",
			Help:        "Finished trials by status and failure reason",
			ConstLabels: labels,
		}, []string{"status", "reason"}),

		LastScore: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "oceanquake_last_score",
			Help:        "Validation accuracy of the most recent completed trial",
			ConstLabels: labels,
		}),

		BestScore: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "oceanquake_best_score",
			Help:        "Best validation accuracy so far",
			ConstLabels: labels,
		}),

		TrialsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "oceanquake_trials_running",
			Help:        "1 while a trial is training",
			ConstLabels: labels,
		}),
	}
}

// TrialStarted implements tuner.Observer.
func (m *Metrics) TrialStarted(string, int, hyper.Config) {
	m.TrialsRunning.Set(1)
}

// TrialFinished implements tuner.Observer.
func (m *Metrics) TrialFinished(t tuner.Trial) {
	m.TrialsRunning.Set(0)
	m.TrialSeconds.Observe(t.Duration.Seconds())
	m.TrialsTotal.WithLabelValues(string(t.Status), string(t.Reason)).Inc()

	if !t.Completed() {
		return
	}
	m.LastScore.Set(t.Score)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.seen || t.Score > m.best {
		m.best, m.seen = t.Score, true
		m.BestScore.Set(t.Score)
	}
}

// ObserveEpoch records one training epoch. It matches the signature of
// tuner.ModelRunner.OnEpoch.
func (m *Metrics) ObserveEpoch(_ string, stats models.EpochStats) {
	m.EpochSeconds.Observe(stats.Duration.Seconds())
}
