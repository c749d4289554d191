// metrics.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// Frame level counting
var (
	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagview_frames_total",
			Help: "Total number of DIAG frames read by class",
		},
		[]string{"class"},
	)

	framesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagview_frames_dropped_total",
			Help: "Total number of frames dropped by reason",
		},
		[]string{"reason"},
	)

	messagesDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagview_messages_decoded_total",
			Help: "Decoded signalling messages by radio access technology and channel",
		},
		[]string{"rat", "channel"},
	)

	telemetryRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagview_telemetry_records_total",
			Help: "Decoded telemetry records by kind",
		},
		[]string{"kind"},
	)
)

// Session and output metrics
var (
	sessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagview_sessions_closed_total",
			Help: "Closed session generations by domain and whether they were cut short",
		},
		[]string{"domain", "cracked"},
	)

	statementsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagview_statements_persisted_total",
			Help: "Statements handed to the persister by table",
		},
		[]string{"table"},
	)

	sigmaMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagview_sigma_matches_total",
			Help: "Sigma rule matches on closed sessions",
		},
		[]string{"rule_id", "level"},
	)

	sigmaDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagview_sigma_dropped_total",
			Help: "Session records dropped because the sigma queue was full",
		},
	)

	excludedSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagview_excluded_sessions_total",
			Help: "Closed sessions kept out of session logs and detection by filters",
		},
		[]string{"filter_type"},
	)

	gsmtapDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagview_gsmtap_deliveries_total",
			Help: "Messages streamed as GSMTAP by result",
		},
		[]string{"result"},
	)
)

// Cache metrics
var (
	cacheStats = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "diagview_cell_cache_stats",
			Help: "Cell cache statistics including size, hit ratio and evictions",
		},
		[]string{"type"}, // size, max_size, hit_ratio, evictions, keys_added
	)

	resourceUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "diagview_resource_usage",
			Help: "Current resource utilization stats",
		},
		[]string{"resource"},
	)
)

// Phase timing metrics
var (
	handlerDurations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diagview_handler_duration_seconds",
			Help:    "Duration of frame handling by handler",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 16),
		},
		[]string{"handler"},
	)

	phaseDurations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diagview_handler_phase_duration_seconds",
			Help:    "Duration of phases within frame handling",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 16),
		},
		[]string{"handler", "phase"},
	)

	phasePercentages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "diagview_handler_phase_percentage",
			Help: "Percentage of handler time spent in each phase",
		},
		[]string{"handler", "phase"},
	)
)

// frameClassName labels the frame classes the dispatcher understands
func frameClassName(class uint16) string {
	switch class {
	case 0x0010:
		return "signalling"
	case 0x001d:
		return "time_sync"
	default:
		return "other"
	}
}

// metricsRecorder feeds dispatcher counters into prometheus
type metricsRecorder struct{}

func (metricsRecorder) FrameSeen(class uint16) {
	framesTotal.WithLabelValues(frameClassName(class)).Inc()
}

func (metricsRecorder) FrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

func (metricsRecorder) TelemetryDecoded(kind string) {
	telemetryRecords.WithLabelValues(kind).Inc()
}

func (metricsRecorder) MessageDecoded(m *types.RadioMessage) {
	messagesDecoded.WithLabelValues(m.RAT.String(), types.ChannelName(m.Flags)).Inc()
}

func recordSessionClosed(s *session.Session) {
	sessionsClosed.WithLabelValues(s.Domain.String(), strconv.FormatBool(s.Cracked)).Inc()
}

func recordStatement(table string) {
	statementsPersisted.WithLabelValues(table).Inc()
}

func recordDelivery(err error) {
	if err != nil {
		gsmtapDeliveries.WithLabelValues("error").Inc()
		return
	}
	gsmtapDeliveries.WithLabelValues("ok").Inc()
}

// PhaseTimer tracks detailed timings within a handler
type PhaseTimer struct {
	handlerName  string
	phases       map[string]time.Duration
	phaseCounts  map[string]int
	currentPhase string
	phaseStart   time.Time
	totalTime    time.Duration
	startTime    time.Time
	count        int
	mu           sync.Mutex
}

var (
	phaseTimersRegistry = make(map[string]*PhaseTimer)
	phaseTimersMutex    sync.RWMutex
)

// GetPhaseTimer returns the PhaseTimer of a handler, creating it on first use
func GetPhaseTimer(handlerName string) *PhaseTimer {
	phaseTimersMutex.RLock()
	timer, exists := phaseTimersRegistry[handlerName]
	phaseTimersMutex.RUnlock()
	if exists {
		return timer
	}

	phaseTimersMutex.Lock()
	defer phaseTimersMutex.Unlock()
	if timer, exists = phaseTimersRegistry[handlerName]; exists {
		return timer
	}
	timer = &PhaseTimer{
		handlerName: handlerName,
		phases:      make(map[string]time.Duration),
		phaseCounts: make(map[string]int),
	}
	phaseTimersRegistry[handlerName] = timer
	return timer
}

func (p *PhaseTimer) StartTiming() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.count++
}

// StartPhase ends the running phase, if any, and starts the next one
func (p *PhaseTimer) StartPhase(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.endPhase()
	p.currentPhase = phase
	p.phaseStart = time.Now()
}

func (p *PhaseTimer) endPhase() {
	if p.currentPhase == "" {
		return
	}
	elapsed := time.Since(p.phaseStart)
	p.phases[p.currentPhase] += elapsed
	p.phaseCounts[p.currentPhase]++
	phaseDurations.WithLabelValues(p.handlerName, p.currentPhase).Observe(elapsed.Seconds())
	p.currentPhase = ""
}

// EndTiming completes timing and records metrics
func (p *PhaseTimer) EndTiming() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.endPhase()

	handlerDuration := time.Since(p.startTime)
	p.totalTime += handlerDuration
	handlerDurations.WithLabelValues(p.handlerName).Observe(handlerDuration.Seconds())

	if p.totalTime == 0 {
		return
	}
	for phase, duration := range p.phases {
		phasePercentages.WithLabelValues(p.handlerName, phase).Set(float64(duration) / float64(p.totalTime) * 100)
	}
}

type PhaseStats struct {
	Duration   time.Duration
	Count      int
	AvgTime    time.Duration
	Percentage float64
}

func (p *PhaseTimer) GetPhaseBreakdown() map[string]PhaseStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make(map[string]PhaseStats, len(p.phases))
	for phase, duration := range p.phases {
		stats := PhaseStats{Duration: duration, Count: p.phaseCounts[phase], AvgTime: duration}
		if stats.Count > 0 {
			stats.AvgTime = duration / time.Duration(stats.Count)
		}
		if p.totalTime > 0 {
			stats.Percentage = float64(duration) / float64(p.totalTime) * 100
		}
		result[phase] = stats
	}
	return result
}

// GetStatistics returns overall statistics for this handler
func (p *PhaseTimer) GetStatistics() (count int, totalTime time.Duration, avgTime time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count > 0 {
		return p.count, p.totalTime, p.totalTime / time.Duration(p.count)
	}
	return p.count, p.totalTime, 0
}

// PrintHandlerBreakdown prints a tree-style breakdown of handler timing
func PrintHandlerBreakdown(handler string) string {
	phaseTimersMutex.RLock()
	timer, exists := phaseTimersRegistry[handler]
	phaseTimersMutex.RUnlock()

	if !exists || timer == nil {
		return "No data available for handler: " + handler
	}

	count, _, avgTime := timer.GetStatistics()
	breakdown := timer.GetPhaseBreakdown()

	phases := make([]string, 0, len(breakdown))
	for phase := range breakdown {
		phases = append(phases, phase)
	}
	sort.Slice(phases, func(i, j int) bool {
		return breakdown[phases[i]].Percentage > breakdown[phases[j]].Percentage
	})

	var result strings.Builder
	fmt.Fprintf(&result, "\n%s handler timing breakdown\n", handler)
	result.WriteString("=====================================\n")
	fmt.Fprintf(&result, "%s: avg=%.3fms (count=%d)\n", handler, float64(avgTime)/float64(time.Millisecond), count)

	for i, phase := range phases {
		stats := breakdown[phase]
		prefix := "  ├─ "
		if i == len(phases)-1 {
			prefix = "  └─ "
		}
		fmt.Fprintf(&result, "%s%s: avg=%.3fms (%.1f%%)\n",
			prefix, phase, float64(stats.AvgTime)/float64(time.Millisecond), stats.Percentage)
	}

	return result.String()
}

// MetricsCollector handles periodic collection of cache and runtime metrics
type MetricsCollector struct {
	cache *CellCache
	ctx   context.Context
	stop  context.CancelFunc
}

func NewMetricsCollector(cache *CellCache) *MetricsCollector {
	ctx, stop := context.WithCancel(context.Background())
	return &MetricsCollector{
		cache: cache,
		ctx:   ctx,
		stop:  stop,
	}
}

func (mc *MetricsCollector) Start() {
	go mc.collect()
}

func (mc *MetricsCollector) Stop() {
	mc.stop()
}

func (mc *MetricsCollector) collect() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-mc.ctx.Done():
			return
		case <-ticker.C:
			mc.updateMetrics()
		}
	}
}

func (mc *MetricsCollector) updateMetrics() {
	stats := runtime.MemStats{}
	runtime.ReadMemStats(&stats)
	resourceUsage.WithLabelValues("memory_bytes").Set(float64(stats.Alloc))
	resourceUsage.WithLabelValues("goroutines").Set(float64(runtime.NumGoroutine()))

	if mc.cache == nil {
		return
	}
	metrics := mc.cache.GetMetrics()
	if metrics == nil {
		return
	}

	cacheStats.WithLabelValues("size").Set(float64(mc.cache.GetSize()))
	cacheStats.WithLabelValues("max_size").Set(float64(mc.cache.MaxSize()))
	cacheStats.WithLabelValues("hit_ratio").Set(metrics.Ratio() * 100)
	cacheStats.WithLabelValues("evictions").Set(float64(metrics.KeysEvicted()))
	cacheStats.WithLabelValues("keys_added").Set(float64(metrics.KeysAdded()))
}

// newMetricsMux serves prometheus metrics and the list of registry sessions being processed
func newMetricsMux(registry *session.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		registry.Enumerate(w)
	})
	return mux
}

// MetricsServer exposes newMetricsMux on an address until its context ends
type MetricsServer struct {
	srv *http.Server
}

func StartMetricsServer(addr string, registry *session.Registry, logger *Logger) *MetricsServer {
	ms := &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           newMetricsMux(registry),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	go func() {
		if err := ms.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics", "Metrics server on %s failed: %v", addr, err)
		}
	}()
	return ms
}

func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.srv.Shutdown(ctx)
}
