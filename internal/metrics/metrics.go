// Package metrics exposes Prometheus instruments for generation, the scorer,
// the context window and the tokenizer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokensGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greedo_tokens_generated_total",
		Help: "Tokens appended by the generation loop",
	})

	PromptTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greedo_prompt_tokens_total",
		Help: "Tokens produced by encoding user input",
	})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "greedo_generation_duration_seconds",
		Help:    "Wall time of a generate request",
		Buckets: prometheus.DefBuckets,
	})

	ScorerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "greedo_scorer_duration_seconds",
		Help:    "Duration of scorer calls that returned",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	ScorerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greedo_scorer_errors_total",
		Help: "Scorer failures by kind",
	}, []string{"kind"})

	Stops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greedo_stops_total",
		Help: "Generation stops by reason",
	}, []string{"reason"})

	WindowTruncations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greedo_window_truncations_total",
		Help: "Steps where the history exceeded the window",
	})

	WindowDroppedTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greedo_window_dropped_tokens_total",
		Help: "Middle tokens left out of the scored window",
	})

	ContextLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "greedo_context_length_tokens",
		Help:    "Window length handed to the scorer",
		Buckets: []float64{16, 32, 64, 128, 256, 512, 1024, 2048, 4096, 8192},
	})

	TokenizerUnknown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greedo_tokenizer_unknown_total",
		Help: "Input units that mapped to the unknown token",
	})

	NonFiniteLogits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greedo_nonfinite_logits_total",
		Help: "NaN or infinite values seen in the read logits row",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greedo_sessions_active",
		Help: "Sessions held by the HTTP session store",
	})
)

func RecordGeneration(tokens int, duration time.Duration) {
	TokensGenerated.Add(float64(tokens))
	GenerationDuration.Observe(duration.Seconds())
}

func RecordPrompt(tokens, unknown int) {
	PromptTokens.Add(float64(tokens))
	if unknown > 0 {
		TokenizerUnknown.Add(float64(unknown))
	}
}

func RecordScorerCall(duration time.Duration) {
	ScorerDuration.Observe(duration.Seconds())
}

func RecordScorerError(kind string) {
	ScorerErrors.WithLabelValues(kind).Inc()
}

func RecordStop(reason string) {
	Stops.WithLabelValues(reason).Inc()
}

// RecordWindow notes one scored window and how many ids it dropped.
func RecordWindow(length, dropped int) {
	ContextLength.Observe(float64(length))
	if dropped > 0 {
		WindowTruncations.Inc()
		WindowDroppedTokens.Add(float64(dropped))
	}
}

func RecordNonFinite(n int) {
	if n > 0 {
		NonFiniteLogits.Add(float64(n))
	}
}

func SessionOpened() { SessionsActive.Inc() }

func SessionClosed() { SessionsActive.Dec() }
