package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder tracks the bridge's operational counters and latency averages and
// exposes them in Prometheus exposition format.
type Recorder struct {
	registry *prometheus.Registry

	messages prometheus.Counter
	forwards prometheus.Counter
	replies  prometheus.Counter
	errors   prometheus.Counter

	mu              sync.Mutex
	forwardTotalMS  float64
	forwardSamples  int64
	agentTotalMS    float64
	agentSamples    int64
}

func NewRecorder() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.messages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cricket_bridge_messages_total",
		Help: "Inbound transport messages seen by the bridge.",
	})
	r.forwards = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cricket_bridge_forwards_total",
		Help: "Messages forwarded to the cricket agent.",
	})
	r.replies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cricket_bridge_replies_total",
		Help: "Replies sent back to WhatsApp chats.",
	})
	r.errors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cricket_bridge_errors_total",
		Help: "Forwarding and transport errors.",
	})

	avgForward := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cricket_bridge_avg_forward_duration_ms",
		Help: "Mean wall-clock duration of forward calls, retries included.",
	}, func() float64 {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.forwardSamples == 0 {
			return 0
		}
		return r.forwardTotalMS / float64(r.forwardSamples)
	})
	avgAgent := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cricket_bridge_avg_agent_latency_ms",
		Help: "Mean upstream-reported processing latency.",
	}, func() float64 {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.agentSamples == 0 {
			return 0
		}
		return r.agentTotalMS / float64(r.agentSamples)
	})

	r.registry.MustRegister(r.messages, r.forwards, r.replies, r.errors, avgForward, avgAgent)
	return r
}

func (r *Recorder) Message() { r.messages.Inc() }
func (r *Recorder) Forward() { r.forwards.Inc() }
func (r *Recorder) Reply()   { r.replies.Inc() }
func (r *Recorder) Error()   { r.errors.Inc() }

// ObserveForward records one completed forward call's wall-clock duration and
// the latency the agent reported for itself.
func (r *Recorder) ObserveForward(durationMS, agentLatencyMS float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forwardTotalMS += durationMS
	r.forwardSamples++
	if agentLatencyMS > 0 {
		r.agentTotalMS += agentLatencyMS
		r.agentSamples++
	}
}

// Handler serves the registry in text exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
