package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters/histograms for the conversation flow. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	turnsTotal          *prometheus.CounterVec
	sessionsTotal       *prometheus.CounterVec
	fieldsTotal         *prometheus.CounterVec
	transcriptionsTotal *prometheus.CounterVec
	externalLatency     *prometheus.HistogramVec
	speechLatency       *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taxvoice",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Utterances handled by the driver",
		}, []string{"phase", "outcome"}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taxvoice",
			Subsystem: "conversation",
			Name:      "sessions_total",
			Help:      "Session lifecycle events",
		}, []string{"event"}),
		fieldsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taxvoice",
			Subsystem: "conversation",
			Name:      "fields_total",
			Help:      "Processed field answers by result",
		}, []string{"result"}),
		transcriptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taxvoice",
			Subsystem: "speech",
			Name:      "transcriptions_total",
			Help:      "Transcription attempts by status",
		}, []string{"status"}),
		externalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taxvoice",
			Subsystem: "extract",
			Name:      "call_duration_seconds",
			Help:      "Latency of form detection and field collection calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"call", "status"}),
		speechLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taxvoice",
			Subsystem: "speech",
			Name:      "playback_duration_seconds",
			Help:      "Time spent speaking a reply",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.sessionsTotal, m.fieldsTotal, m.transcriptionsTotal, m.externalLatency, m.speechLatency)
	return m
}

func (m *Metrics) ObserveTurn(phase, outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(phase, outcome).Inc()
}

func (m *Metrics) ObserveSession(event string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveField(result string) {
	if m == nil {
		return
	}
	m.fieldsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTranscription(status string) {
	if m == nil {
		return
	}
	m.transcriptionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveExternalCall(call, status string, seconds float64) {
	if m == nil {
		return
	}
	m.externalLatency.WithLabelValues(call, status).Observe(seconds)
}

func (m *Metrics) ObserveSpeech(status string, seconds float64) {
	if m == nil {
		return
	}
	m.speechLatency.WithLabelValues(status).Observe(seconds)
}
