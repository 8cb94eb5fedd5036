// Package metrics provides Prometheus metrics for the motion and prediction engine.
package metrics

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/model"
)

// variableLabels are the label names the recorders set per observation.
var variableLabels = []string{"access", "mode", "kind", "model"} //nolint:gochecknoglobals // fixed label set

// Manager manages all Prometheus metrics for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Frame I/O
	framesRead      *prometheus.CounterVec
	frameReadErrors prometheus.Counter
	planeBytes      prometheus.Gauge
	planeAllocFails prometheus.Counter

	// Sequential motion scan
	scansCompleted prometheus.Counter
	scanLatency    prometheus.Histogram
	motionScore    prometheus.Histogram

	// Gap search
	searchCandidates   *prometheus.CounterVec
	searchImprovements *prometheus.CounterVec
	searchLatency      *prometheus.HistogramVec
	searchNoCandidate  prometheus.Counter

	// Predictor assets
	modelLoads        prometheus.Counter
	modelLoadFailures *prometheus.CounterVec
	predictions       *prometheus.CounterVec
	predictionErrors  *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Init replaces the global manager with one built from opts on a fresh
// registry. It must run before any recording starts. Invalid options leave
// the current manager in place.
func Init(opts ...Option) error {
	registry := prometheus.NewRegistry()
	m := configure(append(opts, WithPrometheusRegistry(registry))...)
	if err := m.validate(); err != nil {
		return err
	}
	m.initializeMetrics()
	globalManager = m
	customRegistry = registry
	return nil
}

// Validate reports whether opts would build a valid manager.
func Validate(opts ...Option) error {
	return configure(opts...).validate()
}

// NewManager creates a new metrics manager with default configuration.
// It panics on options Validate rejects.
func NewManager(opts ...Option) *Manager {
	m := configure(opts...)
	m.initializeMetrics()
	return m
}

func configure(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "vmaf",
		subsystem:        "motion",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) validate() error {
	if fq := prometheus.BuildFQName(m.namespace, m.subsystem, m.name("x")); !model.IsValidLegacyMetricName(fq) {
		return fmt.Errorf("%w: metric name %q", ErrInvalidOption, fq)
	}
	for k := range m.customLabels {
		if !model.LabelName(k).IsValidLegacy() || strings.HasPrefix(k, "__") || slices.Contains(variableLabels, k) {
			return fmt.Errorf("%w: label %q", ErrInvalidOption, k)
		}
	}
	for i := 1; i < len(m.histogramBuckets); i++ {
		if m.histogramBuckets[i] <= m.histogramBuckets[i-1] {
			return fmt.Errorf("%w: histogram buckets must increase", ErrInvalidOption)
		}
	}
	return nil
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.framesRead = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("frames_read_total"),
		Help:        "Total number of frames pulled from frame sources, by access pattern",
		ConstLabels: labels,
	}, []string{"access"})

	m.frameReadErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("frame_read_errors_total"),
		Help:        "Total number of frame source read or seek failures",
		ConstLabels: labels,
	})

	m.planeBytes = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("plane_bytes"),
		Help:        "Bytes currently held by aligned planes across all invocations",
		ConstLabels: labels,
	})

	m.planeAllocFails = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("plane_alloc_failures_total"),
		Help:        "Total number of plane allocations refused by an arena budget",
		ConstLabels: labels,
	})

	m.scansCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("scans_completed_total"),
		Help:        "Total number of sequential motion scans that reached end of stream",
		ConstLabels: labels,
	})

	m.scanLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("scan_duration_seconds"),
		Help:        "Duration of sequential motion scans in seconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.motionScore = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("score"),
		Help:        "Distribution of frame-to-frame motion scores",
		Buckets:     []float64{0, 0.5, 1, 2, 4, 8, 16, 32, 64},
		ConstLabels: labels,
	})

	m.searchCandidates = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("search_candidates_total"),
		Help:        "Total number of frame pairs evaluated by the gap search",
		ConstLabels: labels,
	}, []string{"mode"})

	m.searchImprovements = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("search_improvements_total"),
		Help:        "Total number of strict improvements emitted by the gap search",
		ConstLabels: labels,
	}, []string{"mode"})

	m.searchLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("search_duration_seconds"),
		Help:        "Duration of gap searches in seconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	}, []string{"mode"})

	m.searchNoCandidate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("search_no_candidate_total"),
		Help:        "Total number of gap searches whose window admitted no frame pair",
		ConstLabels: labels,
	})

	m.modelLoads = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("model_loads_total"),
		Help:        "Total number of predictor assets loaded",
		ConstLabels: labels,
	})

	m.modelLoadFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("model_load_failures_total"),
		Help:        "Total number of predictor asset load failures by kind",
		ConstLabels: labels,
	}, []string{"kind"})

	m.predictions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("predictions_total"),
		Help:        "Total number of quality predictions by model",
		ConstLabels: labels,
	}, []string{"model"})

	m.predictionErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("prediction_errors_total"),
		Help:        "Total number of failed quality predictions by model",
		ConstLabels: labels,
	}, []string{"model"})
}

// RecordFrameRead increments the frames read counter; access is "sequential" or "seek".
func RecordFrameRead(access string) {
	if !globalManager.enabled {
		return
	}
	globalManager.framesRead.WithLabelValues(access).Inc()
}

// RecordFrameReadError increments the frame read error counter.
func RecordFrameReadError() {
	if !globalManager.enabled {
		return
	}
	globalManager.frameReadErrors.Inc()
}

// AddPlaneBytes adjusts the plane bytes gauge by delta (negative on release).
func AddPlaneBytes(delta int64) {
	if !globalManager.enabled {
		return
	}
	globalManager.planeBytes.Add(float64(delta))
}

// RecordPlaneAllocFailure increments the plane allocation failure counter.
func RecordPlaneAllocFailure() {
	if !globalManager.enabled {
		return
	}
	globalManager.planeAllocFails.Inc()
}

// RecordScan records a completed sequential scan and its duration.
func RecordScan(d time.Duration) {
	if !globalManager.enabled {
		return
	}
	globalManager.scansCompleted.Inc()
	globalManager.scanLatency.Observe(d.Seconds())
}

// RecordMotionScore observes one frame-to-frame motion score.
func RecordMotionScore(score float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.motionScore.Observe(score)
}

// RecordSearchCandidate increments the evaluated candidate counter for a search mode.
func RecordSearchCandidate(mode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.searchCandidates.WithLabelValues(mode).Inc()
}

// RecordSearchImprovement increments the improvement counter for a search mode.
func RecordSearchImprovement(mode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.searchImprovements.WithLabelValues(mode).Inc()
}

// RecordSearchDuration observes the duration of one gap search.
func RecordSearchDuration(mode string, d time.Duration) {
	if !globalManager.enabled {
		return
	}
	globalManager.searchLatency.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordSearchNoCandidate increments the empty-window counter.
func RecordSearchNoCandidate() {
	if !globalManager.enabled {
		return
	}
	globalManager.searchNoCandidate.Inc()
}

// RecordModelLoad increments the successful model load counter.
func RecordModelLoad() {
	if !globalManager.enabled {
		return
	}
	globalManager.modelLoads.Inc()
}

// RecordModelLoadFailure increments the model load failure counter for kind.
func RecordModelLoadFailure(kind string) {
	if !globalManager.enabled {
		return
	}
	globalManager.modelLoadFailures.WithLabelValues(kind).Inc()
}

// RecordPrediction increments the prediction counter for a model.
func RecordPrediction(model string) {
	if !globalManager.enabled {
		return
	}
	globalManager.predictions.WithLabelValues(model).Inc()
}

// RecordPredictionError increments the prediction error counter for a model.
func RecordPredictionError(model string) {
	if !globalManager.enabled {
		return
	}
	globalManager.predictionErrors.WithLabelValues(model).Inc()
}

// WriteTextfile writes the current state of the global registry in the
// Prometheus text exposition format to path.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, customRegistry); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}
