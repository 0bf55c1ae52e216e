package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-pbx-teleporter/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	SerialCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serial_commands_total",
		Help: "Expander commands decoded from the serial link, by command.",
	}, []string{"command"})
	SyncSkippedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_sync_skipped_bytes_total",
		Help: "Bytes discarded while searching for the frame marker.",
	})
	FramesDrawn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_drawn_total",
		Help: "Total draw-all commands that published a frame.",
	})
	DroppedCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dropped_commands_total",
		Help: "Channel commands consumed but not copied into the frame buffer, by reason.",
	}, []string{"reason"})
	ReadyPixels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ready_pixels",
		Help: "Pixel count of the most recently published frame.",
	})
	UDPRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_requests_total",
		Help: "Total frame requests received from UDP clients.",
	})
	UDPReplies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_replies_total",
		Help: "Total frame replies sent to UDP clients.",
	})
	UDPReplyBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_reply_bytes_total",
		Help: "Total pixel bytes sent to UDP clients.",
	})
	UDPRepliesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "udp_replies_skipped_total",
		Help: "Requests left unanswered because no frame was ready.",
	})
	BridgeStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_starts_total",
		Help: "Total successful bridge session starts.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialOpen = "serial_open"
	ErrSerialRead = "serial_read"
	ErrUDPBind    = "udp_bind"
	ErrUDPRead    = "udp_read"
	ErrUDPWrite   = "udp_write"
	ErrConfig     = "config"
)

// Drop reason label constants.
const (
	DropElements = "unsupported_elements"
	DropOverflow = "pixel_overflow"
	DropDisabled = "channel_disabled"
	DropUnknown  = "unknown_command"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localCommands    uint64
	localSyncSkipped uint64
	localFrames      uint64
	localDropped     uint64
	localReadyPixels uint64
	localRequests    uint64
	localReplies     uint64
	localReplyBytes  uint64
	localSkipped     uint64
	localStarts      uint64
	localErrors      uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Commands       uint64
	SyncSkipped    uint64
	Frames         uint64
	Dropped        uint64
	ReadyPixels    uint64
	Requests       uint64
	Replies        uint64
	ReplyBytes     uint64
	RepliesSkipped uint64
	Starts         uint64
	Errors         uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		Commands:       atomic.LoadUint64(&localCommands),
		SyncSkipped:    atomic.LoadUint64(&localSyncSkipped),
		Frames:         atomic.LoadUint64(&localFrames),
		Dropped:        atomic.LoadUint64(&localDropped),
		ReadyPixels:    atomic.LoadUint64(&localReadyPixels),
		Requests:       atomic.LoadUint64(&localRequests),
		Replies:        atomic.LoadUint64(&localReplies),
		ReplyBytes:     atomic.LoadUint64(&localReplyBytes),
		RepliesSkipped: atomic.LoadUint64(&localSkipped),
		Starts:         atomic.LoadUint64(&localStarts),
		Errors:         atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncCommand(command string) {
	SerialCommands.WithLabelValues(command).Inc()
	atomic.AddUint64(&localCommands, 1)
}

func AddSyncSkipped(n int) {
	if n <= 0 {
		return
	}
	SyncSkippedBytes.Add(float64(n))
	atomic.AddUint64(&localSyncSkipped, uint64(n))
}

// IncFrame records a published frame and its pixel count.
func IncFrame(pixels int) {
	FramesDrawn.Inc()
	ReadyPixels.Set(float64(pixels))
	atomic.AddUint64(&localFrames, 1)
	atomic.StoreUint64(&localReadyPixels, uint64(pixels))
}

func IncDropped(reason string) {
	DroppedCommands.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localDropped, 1)
}

func IncRequest() {
	UDPRequests.Inc()
	atomic.AddUint64(&localRequests, 1)
}

func AddReply(n int) {
	UDPReplies.Inc()
	UDPReplyBytes.Add(float64(n))
	atomic.AddUint64(&localReplies, 1)
	atomic.AddUint64(&localReplyBytes, uint64(n))
}

func IncReplySkipped() {
	UDPRepliesSkipped.Inc()
	atomic.AddUint64(&localSkipped, 1)
}

func IncStart() {
	BridgeStarts.Inc()
	atomic.AddUint64(&localStarts, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register label series so dashboards see zeros before the first event.
	for _, lbl := range []string{ErrSerialOpen, ErrSerialRead, ErrUDPBind, ErrUDPRead, ErrUDPWrite, ErrConfig} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, r := range []string{DropElements, DropOverflow, DropDisabled, DropUnknown} {
		DroppedCommands.WithLabelValues(r).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
